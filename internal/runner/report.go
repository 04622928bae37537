package runner

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

type Mode string

const (
	ModeApply  Mode = "apply"
	ModePlan   Mode = "plan"
	ModeVerify Mode = "verify"
)

func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeApply, ModePlan, ModeVerify:
		return m, true
	}
	return "", false
}

type Action string

const (
	ActionCreated Action = "created"
	ActionExists  Action = "exists"
	ActionPlanned Action = "planned"
	ActionMissing Action = "missing"
	ActionDrift   Action = "drift"
)

// Step records what happened to one declared object.
type Step struct {
	Database   string        `json:"database"`
	Collection string        `json:"collection,omitempty"`
	Index      string        `json:"index,omitempty"`
	Action     Action        `json:"action"`
	Detail     string        `json:"detail,omitempty"`
	Latency    time.Duration `json:"latency"`
}

type Report struct {
	RunID          string        `json:"runId"`
	Backend        string        `json:"backend"`
	Mode           Mode          `json:"mode"`
	Steps          []Step        `json:"steps"`
	Created        int           `json:"created"`
	Existing       int           `json:"existing"`
	Planned        int           `json:"planned"`
	Missing        int           `json:"missing"`
	Drifted        int           `json:"drifted"`
	Operations     int64         `json:"operations"`
	Errors         int64         `json:"errors"`
	TotalTime      time.Duration `json:"totalTime"`
	AverageLatency time.Duration `json:"averageLatency"`
	P95Latency     time.Duration `json:"p95Latency"`
	P99Latency     time.Duration `json:"p99Latency"`
}

func (r *Report) add(step Step) {
	r.Steps = append(r.Steps, step)
	switch step.Action {
	case ActionCreated:
		r.Created++
	case ActionExists:
		r.Existing++
	case ActionPlanned:
		r.Planned++
	case ActionMissing:
		r.Missing++
	case ActionDrift:
		r.Drifted++
	}
}

// summarize fills the latency fields from a histogram of microseconds.
func (r *Report) summarize(h *hdrhistogram.Histogram, start time.Time) {
	r.TotalTime = time.Since(start)
	if h.TotalCount() == 0 {
		return
	}
	r.AverageLatency = time.Duration(h.Mean()) * time.Microsecond
	r.P95Latency = time.Duration(h.ValueAtQuantile(95)) * time.Microsecond
	r.P99Latency = time.Duration(h.ValueAtQuantile(99)) * time.Microsecond
}
