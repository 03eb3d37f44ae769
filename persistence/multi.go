package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MultiSink fans a snapshot out to several sinks concurrently.
// Every sink is attempted; failures are joined.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink combines sinks. Nil entries are dropped.
func NewMultiSink(logger *zap.Logger, sinks ...Sink) *MultiSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MultiSink{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Sinks returns the wrapped sinks.
func (m *MultiSink) Sinks() []Sink { return append([]Sink(nil), m.sinks...) }

func (m *MultiSink) SyncTask(ctx context.Context, snap *TaskSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		g.Go(func() error {
			if err := s.SyncTask(ctx, snap); err != nil {
				m.logger.Warn("sink sync failed",
					zap.String("sink", s.Name()),
					zap.String("task_id", snap.TaskID),
					zap.Error(err))
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Load returns the first snapshot found among sinks that implement Reader.
func (m *MultiSink) Load(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	for _, s := range m.sinks {
		r, ok := s.(Reader)
		if !ok {
			continue
		}
		snap, err := r.Load(ctx, taskID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return snap, err
	}
	return nil, ErrNotFound
}

func (m *MultiSink) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
