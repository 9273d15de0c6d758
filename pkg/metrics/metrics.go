// Package metrics accumulates per-mapper record and byte counters and, on
// request, writes them out as a Prometheus text-exposition snapshot. multi
// never runs a server: a dispatch finishes and exits, so the only sensible
// place to expose metrics is a file written once at shutdown.
package metrics

import (
	"fmt"
	"os"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

type counters struct {
	records uint64
	bytes   uint64
}

// Recorder accumulates counters per labeled pump (e.g. "mapper.0"). It is
// safe for concurrent use by every split/combine pump in a run.
type Recorder struct {
	mu  sync.Mutex
	in  map[string]*counters
	out map[string]*counters
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{
		in:  make(map[string]*counters),
		out: make(map[string]*counters),
	}
}

// AddIn records records/bytes read on behalf of label (a mapper slot).
func (r *Recorder) AddIn(label string, records, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.in[label]
	if !ok {
		c = &counters{}
		r.in[label] = c
	}
	c.records += uint64(records)
	c.bytes += uint64(bytes)
}

// AddOut records records/bytes written on behalf of label.
func (r *Recorder) AddOut(label string, records, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.out[label]
	if !ok {
		c = &counters{}
		r.out[label] = c
	}
	c.records += uint64(records)
	c.bytes += uint64(bytes)
}

// WriteTo serializes the current snapshot as Prometheus text exposition
// format to path, creating or truncating it.
func (r *Recorder) WriteTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create metrics file: %w", err)
	}
	defer f.Close()

	families := r.families()
	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("unable to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func (r *Recorder) families() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	return []*dto.MetricFamily{
		counterFamily("multi_mapper_records_in_total", "records read per mapper slot", r.in, func(c *counters) float64 { return float64(c.records) }),
		counterFamily("multi_mapper_bytes_in_total", "bytes read per mapper slot", r.in, func(c *counters) float64 { return float64(c.bytes) }),
		counterFamily("multi_mapper_records_out_total", "records written per mapper slot", r.out, func(c *counters) float64 { return float64(c.records) }),
		counterFamily("multi_mapper_bytes_out_total", "bytes written per mapper slot", r.out, func(c *counters) float64 { return float64(c.bytes) }),
	}
}

func counterFamily(name, help string, by map[string]*counters, value func(*counters) float64) *dto.MetricFamily {
	labels := make([]string, 0, len(by))
	for label := range by {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	metrics := make([]*dto.Metric, 0, len(labels))
	for _, label := range labels {
		metrics = append(metrics, &dto.Metric{
			Label: []*dto.LabelPair{
				{Name: proto.String("mapper"), Value: proto.String(label)},
			},
			Counter: &dto.Counter{Value: proto.Float64(value(by[label]))},
		})
	}

	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: metrics,
	}
}
