package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Playback pipeline stages.
const (
	StageSynthesize   = "synthesize"
	StageDownload     = "download"
	StageStreamChange = "stream_change"
	StageJoin         = "join"
	StageLeave        = "leave"
)

// p95 budgets in milliseconds; stages without an entry report no target.
var stageBudgetsMS = map[string]float64{
	StageSynthesize:   2500,
	StageDownload:     3000,
	StageStreamChange: 1500,
	StageJoin:         4000,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// LatencyWindow holds the newest samples of each playback stage plus outcome counters.
type LatencyWindow struct {
	mu      sync.Mutex
	size    int
	samples map[string][]float64
	counts  map[string]int
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 256
	}
	return &LatencyWindow{
		size:    size,
		samples: map[string][]float64{},
		counts:  map[string]int{},
	}
}

func (w *LatencyWindow) Observe(stage string, d time.Duration) {
	w.ObserveMS(stage, float64(d.Microseconds())/1000)
}

// ObserveMS appends a sample, evicting the oldest one once the stage holds size samples.
func (w *LatencyWindow) ObserveMS(stage string, ms float64) {
	if w == nil || stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], ms)
	if len(s) > w.size {
		s = slices.Delete(s, 0, len(s)-w.size)
	}
	w.samples[stage] = s
}

func (w *LatencyWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	if name = strings.TrimSpace(name); name == "" {
		return
	}
	w.mu.Lock()
	w.counts[name]++
	w.mu.Unlock()
}

func (w *LatencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.samples)),
	}
	for _, stage := range sortedKeys(w.samples) {
		if s := w.samples[stage]; len(s) > 0 {
			snap.Stages = append(snap.Stages, summarize(stage, s))
		}
	}
	for _, name := range sortedKeys(w.counts) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.counts[name]})
	}
	return snap
}

func (w *LatencyWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.samples)
	clear(w.counts)
}

func summarize(stage string, window []float64) StageStats {
	sorted := slices.Clone(window)
	slices.Sort(sorted)
	var total float64
	for _, v := range sorted {
		total += v
	}
	return StageStats{
		Stage:       stage,
		Samples:     len(sorted),
		LastMS:      round2(window[len(window)-1]),
		AvgMS:       round2(total / float64(len(sorted))),
		P50MS:       round2(percentile(sorted, 50)),
		P95MS:       round2(percentile(sorted, 95)),
		P99MS:       round2(percentile(sorted, 99)),
		TargetP95MS: stageBudgetsMS[stage],
	}
}

// percentile interpolates linearly between closest ranks of an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
