// Copyright (C) 2024 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import "context"

// V is a set of key-value pairs that can be bound to a context and picked
// up by every Message logged from it or a descendant context.
type V map[string]interface{}

type valuesChain struct {
	v      V
	parent *valuesChain
}

// Bind returns a new context with v attached, layered on top of any values
// already bound to ctx.
func (v V) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, valuesKey, &valuesChain{v: v, parent: chainOf(ctx)})
}

func chainOf(ctx context.Context) *valuesChain {
	c, _ := ctx.Value(valuesKey).(*valuesChain)
	return c
}

func flatten(ctx context.Context) V {
	out := V{}
	var collect func(*valuesChain)
	collect = func(c *valuesChain) {
		if c == nil {
			return
		}
		collect(c.parent)
		for k, v := range c.v {
			out[k] = v
		}
	}
	collect(chainOf(ctx))
	if len(out) == 0 {
		return nil
	}
	return out
}
