package importer

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// progress is the bulk-import session state. One live instance at a time;
// imported + failed never exceeds total.
type progress struct {
	runID          string
	status         Status
	total          int
	imported       int
	failed         int
	currentBatch   int
	estimatedTotal int // -1 while unknown
	lastError      string
	startTime      time.Time
	endTime        time.Time
}

// ProgressSnapshot is the externally visible view of a bulk run, including
// the derived rate and ETA figures the status endpoint reports.
type ProgressSnapshot struct {
	RunID          string  `json:"runId,omitempty"`
	Status         Status  `json:"status"`
	IsRunning      bool    `json:"isRunning"`
	Total          int     `json:"total"`
	Imported       int     `json:"imported"`
	Failed         int     `json:"failed"`
	CurrentBatch   int     `json:"currentBatch"`
	EstimatedTotal string  `json:"estimatedTotal"`
	LastError      string  `json:"lastError,omitempty"`
	StartTime      string  `json:"startTime,omitempty"`
	EndTime        string  `json:"endTime,omitempty"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	RatePerSecond  float64 `json:"ratePerSecond"`
	EstimatedETA   string  `json:"estimatedTimeRemaining,omitempty"`
}

func (p *progress) snapshot(now time.Time) ProgressSnapshot {
	snap := ProgressSnapshot{
		RunID:          p.runID,
		Status:         p.status,
		IsRunning:      p.status == StatusRunning,
		Total:          p.total,
		Imported:       p.imported,
		Failed:         p.failed,
		CurrentBatch:   p.currentBatch,
		EstimatedTotal: "unknown",
		LastError:      p.lastError,
	}

	if p.estimatedTotal >= 0 {
		snap.EstimatedTotal = fmt.Sprintf("%d", p.estimatedTotal)
	}

	if !p.startTime.IsZero() {
		snap.StartTime = p.startTime.Format(time.RFC3339)

		end := now
		if !p.endTime.IsZero() {
			end = p.endTime
			snap.EndTime = p.endTime.Format(time.RFC3339)
		}

		elapsed := end.Sub(p.startTime).Seconds()
		snap.ElapsedSeconds = elapsed

		if elapsed > 0 {
			snap.RatePerSecond = float64(p.imported) / elapsed
		}
	}

	if p.status == StatusRunning {
		snap.EstimatedETA = etaFor(p.estimatedTotal, p.imported+p.failed, snap.RatePerSecond)
	}

	return snap
}

// etaFor never guesses: with no known total the remaining time is reported
// as unbounded.
func etaFor(estimatedTotal, processed int, rate float64) string {
	if estimatedTotal < 0 || rate <= 0 {
		return "∞"
	}

	remaining := estimatedTotal - processed
	if remaining <= 0 {
		return "0s"
	}

	return (time.Duration(float64(remaining)/rate) * time.Second).String()
}

// AutoImportStatus is the externally visible auto-import state.
type AutoImportStatus struct {
	Enabled       bool `json:"isRunning"`
	ImportedCount int  `json:"importedCount"`
}
