// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package refs

import "fmt"

// Count is a reference count whose transitions are serialized by a lock
// owned by the caller (e.g. a cache table lock), so that reaching zero and
// removal from the owning table happen atomically with respect to lookups.
//
// The zero value holds no references.
type Count struct {
	n int64
}

// Init sets the count to one.
func (c *Count) Init() {
	c.n = 1
}

// Read returns the current count.
func (c *Count) Read() int64 {
	return c.n
}

// Inc increments the count and returns the new value. Incrementing a dead
// object is a bug in the caller.
func (c *Count) Inc() int64 {
	if c.n <= 0 {
		panic(fmt.Sprintf("Incrementing non-positive ref count %d", c.n))
	}
	c.n++
	return c.n
}

// Dec decrements the count and returns the new value.
func (c *Count) Dec() int64 {
	if c.n <= 0 {
		panic("Decrementing non-positive ref count")
	}
	c.n--
	return c.n
}
