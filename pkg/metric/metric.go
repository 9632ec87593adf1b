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

// Package metric provides named counters and gauges for VFS components and
// exports them in the Prometheus text exposition format.
package metric

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidMetricName indicates that a metric name is not a valid
	// Prometheus metric name.
	ErrInvalidMetricName = errors.New("metric name is invalid")
)

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored. It is safe for concurrent use.
type Uint64Metric struct {
	name        string
	description string
	value       atomic.Uint64
}

// Name returns the metric name.
func (m *Uint64Metric) Name() string {
	return m.name
}

// Value returns the current value of the metric.
func (m *Uint64Metric) Value() uint64 {
	return m.value.Load()
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment() {
	m.value.Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64) {
	m.value.Add(v)
}

// customUint64Metric is a metric whose value is computed on demand.
type customUint64Metric struct {
	name        string
	description string
	cumulative  bool
	value       func() uint64
}

// Registry holds the metrics of one VFS instance.
type Registry struct {
	mu      sync.Mutex
	uint64s map[string]*Uint64Metric
	customs map[string]customUint64Metric
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		uint64s: make(map[string]*Uint64Metric),
		customs: make(map[string]customUint64Metric),
	}
}

func verifyName(name string) error {
	if len(name) == 0 {
		return ErrInvalidMetricName
	}
	for i, c := range name {
		switch {
		case c == '_' || c == ':':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidMetricName, name)
		}
	}
	return nil
}

// Preconditions: r.mu is locked.
func (r *Registry) checkNameLocked(name string) error {
	if err := verifyName(name); err != nil {
		return err
	}
	if _, ok := r.uint64s[name]; ok {
		return fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	if _, ok := r.customs[name]; ok {
		return fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	return nil
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func (r *Registry) NewUint64Metric(name, description string) (*Uint64Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNameLocked(name); err != nil {
		return nil, err
	}
	m := &Uint64Metric{name: name, description: description}
	r.uint64s[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func (r *Registry) MustCreateNewUint64Metric(name, description string) *Uint64Metric {
	m, err := r.NewUint64Metric(name, description)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// RegisterCustomUint64Metric registers a metric whose value is produced by
// value at export time. A non-cumulative metric is exported as a gauge.
func (r *Registry) RegisterCustomUint64Metric(name, description string, cumulative bool, value func() uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNameLocked(name); err != nil {
		return err
	}
	r.customs[name] = customUint64Metric{
		name:        name,
		description: description,
		cumulative:  cumulative,
		value:       value,
	}
	return nil
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func (r *Registry) MustRegisterCustomUint64Metric(name, description string, cumulative bool, value func() uint64) {
	if err := r.RegisterCustomUint64Metric(name, description, cumulative, value); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// sample is a point-in-time value of one metric.
type sample struct {
	name        string
	description string
	cumulative  bool
	value       uint64
}

// snapshot returns the current value of every metric, sorted by name.
func (r *Registry) snapshot() []sample {
	r.mu.Lock()
	samples := make([]sample, 0, len(r.uint64s)+len(r.customs))
	for _, m := range r.uint64s {
		samples = append(samples, sample{m.name, m.description, true, m.Value()})
	}
	customs := make([]customUint64Metric, 0, len(r.customs))
	for _, c := range r.customs {
		customs = append(customs, c)
	}
	r.mu.Unlock()

	// Custom callbacks may take other locks; run them outside r.mu.
	for _, c := range customs {
		samples = append(samples, sample{c.name, c.description, c.cumulative, c.value()})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].name < samples[j].name })
	return samples
}

// Values returns the current value of every registered metric.
func (r *Registry) Values() map[string]uint64 {
	vals := make(map[string]uint64)
	for _, s := range r.snapshot() {
		vals[s.name] = s.value
	}
	return vals
}
