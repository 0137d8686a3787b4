package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for one frame's command batch.
const (
	PhaseCopy   = "copy"
	PhaseUpdate = "update"
	PhaseInject = "inject"
	PhaseDraw   = "draw"
	PhaseReport = "report"
)

// phases lists all phases in frame order. A frame's stage timings are
// stored at the phase's index.
var phases = [...]string{PhaseCopy, PhaseUpdate, PhaseInject, PhaseDraw, PhaseReport}

const numPhases = len(phases)

func phaseIndex(name string) int {
	for i, p := range phases {
		if p == name {
			return i
		}
	}
	return -1
}

// frameTiming is one frame's duration split by stage.
type frameTiming struct {
	total  time.Duration
	stages [numPhases]time.Duration
	ran    [numPhases]bool
}

// PerfCollector times frame stages over a rolling window of frames.
// It is not safe for concurrent use; a frame is timed on the goroutine that
// executes it.
type PerfCollector struct {
	window []frameTiming
	next   int
	filled int

	cur        frameTiming
	frameStart time.Time
	stageStart time.Time
	stage      int // -1 when no stage is open

	// Host frame pacing, recorded by whoever presents frames
	lastPresent time.Time
	presentGap  time.Duration
}

// NewPerfCollector creates a collector averaging over windowSize frames.
// Non-positive sizes default to 60.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		window: make([]frameTiming, windowSize),
		stage:  -1,
	}
}

// StartTick begins timing a new frame.
func (p *PerfCollector) StartTick() {
	p.frameStart = time.Now()
	p.cur = frameTiming{}
	p.stage = -1
}

// StartPhase closes the open stage, if any, and opens the named one.
// Unknown names close the open stage without opening another.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	p.closeStage(now)
	p.stage = phaseIndex(phase)
	p.stageStart = now
}

func (p *PerfCollector) closeStage(now time.Time) {
	if p.stage < 0 {
		return
	}
	p.cur.stages[p.stage] += now.Sub(p.stageStart)
	p.cur.ran[p.stage] = true
	p.stage = -1
}

// EndTick closes the frame and stores it in the window.
func (p *PerfCollector) EndTick() {
	now := time.Now()
	p.closeStage(now)
	p.cur.total = now.Sub(p.frameStart)

	p.window[p.next] = p.cur
	p.next = (p.next + 1) % len(p.window)
	p.filled = min(p.filled+1, len(p.window))
}

// RecordFrame records the time since the previous presented frame.
func (p *PerfCollector) RecordFrame() {
	now := time.Now()
	if !p.lastPresent.IsZero() {
		p.presentGap = now.Sub(p.lastPresent)
	}
	p.lastPresent = now
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgTickDuration time.Duration
	MinTickDuration time.Duration
	MaxTickDuration time.Duration

	// Average stage durations over all frames in the window, for stages
	// that ran at least once
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	TicksPerSecond float64

	FrameDuration time.Duration
	FPS           float64
}

// Stats aggregates the frames currently in the window.
func (p *PerfCollector) Stats() PerfStats {
	st := PerfStats{
		PhaseAvg:      make(map[string]time.Duration, numPhases),
		PhasePct:      make(map[string]float64, numPhases),
		FrameDuration: p.presentGap,
	}
	if p.presentGap > 0 {
		st.FPS = float64(time.Second) / float64(p.presentGap)
	}
	if p.filled == 0 {
		return st
	}

	var total time.Duration
	var stageSum [numPhases]time.Duration
	var stageRan [numPhases]bool
	for i, f := range p.window[:p.filled] {
		total += f.total
		if i == 0 || f.total < st.MinTickDuration {
			st.MinTickDuration = f.total
		}
		st.MaxTickDuration = max(st.MaxTickDuration, f.total)
		for s := range numPhases {
			stageSum[s] += f.stages[s]
			stageRan[s] = stageRan[s] || f.ran[s]
		}
	}

	n := time.Duration(p.filled)
	st.AvgTickDuration = total / n
	if st.AvgTickDuration > 0 {
		st.TicksPerSecond = float64(time.Second) / float64(st.AvgTickDuration)
	}
	for s, name := range phases {
		if !stageRan[s] {
			continue
		}
		avg := stageSum[s] / n
		st.PhaseAvg[name] = avg
		if st.AvgTickDuration > 0 {
			st.PhasePct[name] = float64(avg) / float64(st.AvgTickDuration) * 100
		}
	}
	return st
}

// LogStats logs the stats at info level, listing stages above 0.1%.
func (s PerfStats) LogStats() {
	attrs := []any{
		"avg_tick_us", s.AvgTickDuration.Microseconds(),
		"max_tick_us", s.MaxTickDuration.Microseconds(),
		"ticks_per_sec", int(s.TicksPerSecond),
	}
	if s.FPS > 0 {
		attrs = append(attrs, "fps", int(s.FPS))
	}
	for _, name := range phases {
		if pct := s.PhasePct[name]; pct > 0.1 {
			attrs = append(attrs, name+"_pct", float64(int(pct*10))/10)
		}
	}
	slog.Info("perf", attrs...)
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("min_tick_us", s.MinTickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
	}
	if s.FPS > 0 {
		attrs = append(attrs, slog.Float64("fps", s.FPS))
	}
	for _, name := range phases {
		if pct, ok := s.PhasePct[name]; ok {
			attrs = append(attrs, slog.Float64(name+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one perf.csv row.
type PerfStatsCSV struct {
	WindowEnd   int64   `csv:"window_end"`
	AvgTickUS   int64   `csv:"avg_tick_us"`
	MinTickUS   int64   `csv:"min_tick_us"`
	MaxTickUS   int64   `csv:"max_tick_us"`
	TicksPerSec float64 `csv:"ticks_per_sec"`
	FPS         float64 `csv:"fps"`
	CopyPct     float64 `csv:"copy_pct"`
	UpdatePct   float64 `csv:"update_pct"`
	InjectPct   float64 `csv:"inject_pct"`
	DrawPct     float64 `csv:"draw_pct"`
	ReportPct   float64 `csv:"report_pct"`
}

// ToCSV flattens the stats into a row ending at frame windowEnd.
func (s PerfStats) ToCSV(windowEnd int64) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:   windowEnd,
		AvgTickUS:   s.AvgTickDuration.Microseconds(),
		MinTickUS:   s.MinTickDuration.Microseconds(),
		MaxTickUS:   s.MaxTickDuration.Microseconds(),
		TicksPerSec: s.TicksPerSecond,
		FPS:         s.FPS,
		CopyPct:     s.PhasePct[PhaseCopy],
		UpdatePct:   s.PhasePct[PhaseUpdate],
		InjectPct:   s.PhasePct[PhaseInject],
		DrawPct:     s.PhasePct[PhaseDraw],
		ReportPct:   s.PhasePct[PhaseReport],
	}
}
