package profiling

import (
	"log"
	"runtime"
	"sort"
	"sync"
	"time"
)

// TargetStats aggregates the fits run for one target.
type TargetStats struct {
	Target   string  `json:"target"`
	Params   int     `json:"params"`
	Fits     int     `json:"fits"`
	Failures int     `json:"failures"`
	LastMs   float64 `json:"last_ms"`
	MaxMs    float64 `json:"max_ms"`
	MeanMs   float64 `json:"mean_ms"`
	total    time.Duration
}

// FitStats collects per-target fit timings from the worker pool. The zero
// value is not usable; call NewFitStats. A nil *FitStats ignores records.
type FitStats struct {
	mu      sync.Mutex
	targets map[string]*TargetStats
}

func NewFitStats() *FitStats {
	return &FitStats{targets: make(map[string]*TargetStats)}
}

// Record adds one finished fit.
func (s *FitStats) Record(t FitTiming) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.targets[t.Target]
	if !ok {
		ts = &TargetStats{Target: t.Target}
		s.targets[t.Target] = ts
	}
	ms := msOf(t.Duration)
	ts.Params = t.Params
	ts.Fits++
	if !t.OK {
		ts.Failures++
	}
	ts.total += t.Duration
	ts.LastMs = ms
	if ms > ts.MaxMs {
		ts.MaxMs = ms
	}
	ts.MeanMs = msOf(ts.total) / float64(ts.Fits)
}

// Snapshot returns the per-target stats sorted by target.
func (s *FitStats) Snapshot() []TargetStats {
	if s == nil {
		return []TargetStats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TargetStats, 0, len(s.targets))
	for _, ts := range s.targets {
		out = append(out, *ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Total returns the number of fits recorded.
func (s *FitStats) Total() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ts := range s.targets {
		n += ts.Fits
	}
	return n
}

// FitTiming is the measurement of one target fit.
type FitTiming struct {
	Worker      int
	Target      string
	Params      int
	OK          bool
	Duration    time.Duration
	MemoryDelta int64
}

// FitProfiler measures one fit on a worker.
type FitProfiler struct {
	worker      int
	target      string
	params      int
	start       time.Time
	startMemory uint64
	readMemory  bool
}

// StartFit begins measuring a fit of target with params free parameters.
// Memory is sampled only when readMemory is set.
func StartFit(worker int, target string, params int, readMemory bool) *FitProfiler {
	fp := &FitProfiler{worker: worker, target: target, params: params, readMemory: readMemory}
	if readMemory {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		fp.startMemory = m.Alloc
	}
	fp.start = time.Now()
	return fp
}

// Finish stops the measurement. The timing is logged when memory was
// sampled.
func (fp *FitProfiler) Finish(ok bool) FitTiming {
	t := FitTiming{
		Worker:   fp.worker,
		Target:   fp.target,
		Params:   fp.params,
		OK:       ok,
		Duration: time.Since(fp.start),
	}
	if fp.readMemory {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		t.MemoryDelta = int64(m.Alloc) - int64(fp.startMemory)
		log.Printf("🔍 Worker[%d] fit %s (%d params, ok=%t): %.3fms, memory: %+d bytes",
			t.Worker, t.Target, t.Params, t.OK, msOf(t.Duration), t.MemoryDelta)
	}
	return t
}

// MemoryProfiler periodically logs heap usage next to the fit count.
type MemoryProfiler struct {
	interval time.Duration
	fits     *FitStats
	done     chan struct{}
	once     sync.Once
}

func NewMemoryProfiler(interval time.Duration, fits *FitStats) *MemoryProfiler {
	return &MemoryProfiler{interval: interval, fits: fits, done: make(chan struct{})}
}

func (mp *MemoryProfiler) Start() {
	go func() {
		ticker := time.NewTicker(mp.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				log.Printf("📊 Memory: Alloc=%.2fMB, Sys=%.2fMB, GC=%d, fits=%d",
					bToMb(m.Alloc), bToMb(m.Sys), m.NumGC, mp.fits.Total())
			case <-mp.done:
				return
			}
		}
	}()
}

// Stop is safe to call more than once.
func (mp *MemoryProfiler) Stop() {
	mp.once.Do(func() { close(mp.done) })
}

// GCStats is a summary of garbage collector activity.
type GCStats struct {
	NumGC        uint32
	PauseTotal   time.Duration
	PauseRecent  time.Duration
	LastGC       time.Time
	GCCPUPercent float64
}

func readGCStats() GCStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats := GCStats{
		NumGC:        m.NumGC,
		PauseTotal:   time.Duration(m.PauseTotalNs),
		LastGC:       time.Unix(0, int64(m.LastGC)),
		GCCPUPercent: m.GCCPUFraction * 100,
	}
	if m.NumGC > 0 {
		stats.PauseRecent = time.Duration(m.PauseNs[(m.NumGC+255)%256])
	}
	return stats
}

// ForceGC runs a collection and returns the stats after it.
func ForceGC() GCStats {
	before := readGCStats().NumGC
	runtime.GC()
	after := readGCStats()
	log.Printf("🗑️  Forced GC: %d→%d runs, pause: %.2fμs",
		before, after.NumGC, float64(after.PauseRecent.Nanoseconds())/1000.0)
	return after
}

func msOf(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

func bToMb(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
