package logger

import (
	"sync/atomic"
	"time"
)

// Outcome is how a single document in a batch ended
type Outcome int

const (
	OutcomeClean Outcome = iota
	OutcomeFlagged
	OutcomeFailed
)

// BatchCounts is a point-in-time view of a batch run
type BatchCounts struct {
	Total   int64         `json:"total"`
	Clean   int64         `json:"clean"`
	Flagged int64         `json:"flagged"`
	Failed  int64         `json:"failed"`
	Elapsed time.Duration `json:"elapsed"`
}

// Done is the number of documents that reached an outcome
func (c BatchCounts) Done() int64 {
	return c.Clean + c.Flagged + c.Failed
}

func (c BatchCounts) fields() Fields {
	fields := Fields{
		"done":    c.Done(),
		"clean":   c.Clean,
		"flagged": c.Flagged,
		"failed":  c.Failed,
		"elapsed": c.Elapsed.Round(time.Millisecond).String(),
	}
	if c.Total > 0 {
		fields["total"] = c.Total
	}
	return fields
}

// BatchProgress counts document outcomes for a batch and logs a summary line
// at most once per interval. Record may be called from any worker.
type BatchProgress struct {
	log      Logger
	total    int64
	every    time.Duration
	started  time.Time
	lastLog  atomic.Int64
	outcomes [3]atomic.Int64
}

// NewBatchProgress starts counting a batch of total documents. A zero
// interval logs every five seconds.
func NewBatchProgress(log Logger, total int, every time.Duration) *BatchProgress {
	if log == nil {
		log = GetGlobalLogger()
	}
	if every <= 0 {
		every = 5 * time.Second
	}
	p := &BatchProgress{
		log:     log.WithComponent("progress"),
		total:   int64(total),
		every:   every,
		started: time.Now(),
	}
	p.lastLog.Store(p.started.UnixNano())
	p.log.WithField("total", total).Info("Batch started")
	return p
}

// Record counts one finished document
func (p *BatchProgress) Record(outcome Outcome) {
	if outcome < OutcomeClean || outcome > OutcomeFailed {
		outcome = OutcomeFailed
	}
	p.outcomes[outcome].Add(1)

	now := time.Now().UnixNano()
	last := p.lastLog.Load()
	if time.Duration(now-last) < p.every || !p.lastLog.CompareAndSwap(last, now) {
		return
	}
	p.log.WithFields(p.Counts().fields()).Info("Batch progress")
}

// Counts returns the current tallies
func (p *BatchProgress) Counts() BatchCounts {
	return BatchCounts{
		Total:   p.total,
		Clean:   p.outcomes[OutcomeClean].Load(),
		Flagged: p.outcomes[OutcomeFlagged].Load(),
		Failed:  p.outcomes[OutcomeFailed].Load(),
		Elapsed: time.Since(p.started),
	}
}

// Finish logs the final tallies and returns them
func (p *BatchProgress) Finish() BatchCounts {
	counts := p.Counts()
	entry := p.log.WithFields(counts.fields())
	if counts.Failed > 0 {
		entry.Warn("Batch finished with failures")
	} else {
		entry.Info("Batch finished")
	}
	return counts
}

// Timed runs fn and logs its duration under operation, at error level when
// fn fails. The error is returned unchanged.
func Timed(log Logger, operation string, fn func() error) error {
	if log == nil {
		log = GetGlobalLogger()
	}
	started := time.Now()
	err := fn()

	entry := log.WithFields(Fields{
		"operation": operation,
		"duration":  time.Since(started).String(),
	})
	if err != nil {
		entry.WithError(err).Error("Operation failed")
		return err
	}
	entry.Debug("Operation finished")
	return nil
}
