package sedonadb

import (
	"strconv"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// ProfilingInfo is a recursive type containing metrics for each operator of an
// executed query. The root node describes the whole query; its children are
// the operators of the physical pipeline.
type ProfilingInfo struct {
	// Metrics contains all key-value pairs of the current node.
	// The key represents the name and corresponds to the measured value.
	Metrics map[string]string
	// Children contains all children of the node and their respective metrics.
	Children []ProfilingInfo
}

// Metric keys.
const (
	MetricOperator  = "operator"
	MetricDetail    = "detail"
	MetricRows      = "rows"
	MetricBatches   = "batches"
	MetricElapsedMS = "elapsed_ms"
	MetricQueryID   = "query_id"
)

// operatorStats accumulates the metrics of one operator. Elapsed time is
// inclusive of the operator's inputs.
type operatorStats struct {
	name     string
	detail   string
	rows     int64
	batches  int64
	elapsed  time.Duration
	children []operator
}

func (s *operatorStats) stats() *operatorStats {
	return s
}

func (s *operatorStats) observe(rec arrow.Record, start time.Time) {
	s.elapsed += time.Since(start)
	if rec != nil {
		s.rows += rec.NumRows()
		s.batches++
	}
}

func (s *operatorStats) profile() ProfilingInfo {
	info := ProfilingInfo{Metrics: map[string]string{
		MetricOperator:  s.name,
		MetricRows:      strconv.FormatInt(s.rows, 10),
		MetricBatches:   strconv.FormatInt(s.batches, 10),
		MetricElapsedMS: strconv.FormatFloat(float64(s.elapsed.Microseconds())/1000, 'f', 3, 64),
	}}
	if s.detail != "" {
		info.Metrics[MetricDetail] = s.detail
	}
	for _, c := range s.children {
		info.Children = append(info.Children, c.stats().profile())
	}
	return info
}

// profileStore keeps the profile of the last finished query.
type profileStore struct {
	mu   sync.Mutex
	last *ProfilingInfo
}

func (p *profileStore) set(info ProfilingInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &info
}

func (p *profileStore) get() (ProfilingInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return ProfilingInfo{}, false
	}
	return *p.last, true
}
