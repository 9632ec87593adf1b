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

import (
	"strings"
	"testing"
)

type owner struct {
	AtomicRefCount
	destroyed int
}

func (o *owner) DecRef() {
	o.AtomicRefCount.DecRef(func() { o.destroyed++ })
}

func mustPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("%s: got no panic, want panic", name)
		}
	}()
	f()
}

func TestRefRoundTrip(t *testing.T) {
	o := &owner{}
	o.InitRefs("test.owner")
	const n = 10
	for i := 0; i < n; i++ {
		o.IncRef()
	}
	if got, want := o.ReadRefs(), int64(n+1); got != want {
		t.Fatalf("ReadRefs: got %d, want %d", got, want)
	}
	for i := 0; i < n+1; i++ {
		o.DecRef()
	}
	if o.destroyed != 1 {
		t.Errorf("destructor calls: got %d, want 1", o.destroyed)
	}
	if o.TryIncRef() {
		t.Errorf("TryIncRef on destroyed object: got true, want false")
	}
	mustPanic(t, "DecRef below zero", o.DecRef)
}

func TestTryIncRef(t *testing.T) {
	o := &owner{}
	o.InitRefs("test.owner")
	if !o.TryIncRef() {
		t.Fatalf("TryIncRef on live object: got false, want true")
	}
	if got, want := o.ReadRefs(), int64(2); got != want {
		t.Errorf("ReadRefs: got %d, want %d", got, want)
	}
	o.DecRef()
	o.DecRef()
}

func TestCount(t *testing.T) {
	var c Count
	mustPanic(t, "Inc on zero value", func() { c.Inc() })
	c.Init()
	if got := c.Inc(); got != 2 {
		t.Errorf("Inc: got %d, want 2", got)
	}
	c.Dec()
	if got := c.Dec(); got != 0 {
		t.Errorf("Dec: got %d, want 0", got)
	}
	mustPanic(t, "Dec below zero", func() { c.Dec() })
}

func TestLeakCheck(t *testing.T) {
	SetLeakMode(LeaksLogWarning)
	defer SetLeakMode(NoLeakChecking)

	leaky := &owner{}
	leaky.InitRefs("test.leaky")
	clean := &owner{}
	clean.InitRefs("test.clean")
	clean.DecRef()

	leaked := LeakedObjects()
	found := false
	for _, msg := range leaked {
		if strings.Contains(msg, "test.clean") {
			t.Errorf("released object reported as leaked: %q", msg)
		}
		if strings.Contains(msg, "test.leaky") {
			found = true
		}
	}
	if !found {
		t.Errorf("leaked object missing from %v", leaked)
	}
	if n := DoRepeatedLeakCheck(); n == 0 {
		t.Errorf("DoRepeatedLeakCheck: got 0 leaks, want at least 1")
	}
	leaky.DecRef()
	if n := DoRepeatedLeakCheck(); n != 0 {
		t.Errorf("DoRepeatedLeakCheck after release: got %d leaks, want 0", n)
	}
}

func TestLeakModeFlag(t *testing.T) {
	for _, s := range []string{"disabled", "log-names", "panic"} {
		var m LeakMode
		if err := m.Set(s); err != nil {
			t.Errorf("Set(%q) failed: %v", s, err)
			continue
		}
		if got := m.String(); got != s {
			t.Errorf("String after Set(%q): got %q", s, got)
		}
	}
	var m LeakMode
	if err := m.Set("bogus"); err == nil {
		t.Errorf("Set(bogus): got nil error, want error")
	}
}
