package audit

import (
	"context"
	"time"
)

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder appends audit records without ever failing the caller.
//
// A lost audit line must not block message processing, so write errors
// and panics are logged and swallowed.
type Recorder struct {
	repo    Repository
	timeout time.Duration
	logger  Logger
}

// NewRecorder creates a recorder over repo. Each append is bounded by
// timeout.
func NewRecorder(repo Repository, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Recorder{repo: repo, timeout: timeout, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record appends rec.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("audit append panicked", "topic", rec.Topic, "panic", p)
		}
	}()

	// Detach from the caller's cancellation so a message handled during
	// shutdown is still recorded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.repo.Append(ctx, &rec); err != nil {
		r.logger.Warn("audit append failed",
			"direction", string(rec.Direction),
			"topic", rec.Topic,
			"msg_id", rec.MessageID,
			"outcome", string(rec.Outcome),
			"error", err,
		)
	}
}
