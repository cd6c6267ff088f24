package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type mockRepo struct {
	mu      sync.Mutex
	records []Record
	err     error
	panics  bool
}

func (m *mockRepo) Append(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panics {
		panic("driver bug")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *mockRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("not implemented")
}

type warnLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprint(msg, args))
}

func TestRecorder_Appends(t *testing.T) {
	repo := &mockRepo{}
	r := NewRecorder(repo, 0)

	r.Record(context.Background(), Record{Direction: DirectionInbound, Topic: "fes/1/ack", Outcome: OutcomeProcessed})

	if len(repo.records) != 1 {
		t.Fatalf("records = %d, want 1", len(repo.records))
	}
}

func TestRecorder_SurvivesCancelledContext(t *testing.T) {
	repo := &mockRepo{}
	r := NewRecorder(repo, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, Record{Direction: DirectionInbound, Outcome: OutcomeProcessed})

	if len(repo.records) != 1 {
		t.Errorf("records = %d, want 1 despite cancelled caller", len(repo.records))
	}
}

func TestRecorder_SwallowsFailures(t *testing.T) {
	tests := []struct {
		name string
		repo *mockRepo
	}{
		{"error", &mockRepo{err: errors.New("disk full")}},
		{"panic", &mockRepo{panics: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &warnLogger{}
			r := NewRecorder(tt.repo, 0)
			r.SetLogger(logger)

			r.Record(context.Background(), Record{Direction: DirectionOutbound, Outcome: OutcomePublished})

			if len(logger.warns) != 1 {
				t.Errorf("warnings = %d, want 1", len(logger.warns))
			}
		})
	}
}
