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

package metric

import (
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// families converts the registry contents to Prometheus metric families.
func (r *Registry) families() []*dto.MetricFamily {
	samples := r.snapshot()
	fams := make([]*dto.MetricFamily, 0, len(samples))
	for _, s := range samples {
		f := &dto.MetricFamily{
			Name: proto.String(s.name),
			Help: proto.String(s.description),
		}
		v := float64(s.value)
		if s.cumulative {
			f.Type = dto.MetricType_COUNTER.Enum()
			f.Metric = []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}}
		} else {
			f.Type = dto.MetricType_GAUGE.Enum()
			f.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}}
		}
		fams = append(fams, f)
	}
	return fams
}

// WritePrometheus writes every metric to w in the Prometheus text exposition
// format and returns the number of bytes written.
func (r *Registry) WritePrometheus(w io.Writer) (int, error) {
	total := 0
	for _, f := range r.families() {
		n, err := expfmt.MetricFamilyToText(w, f)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
