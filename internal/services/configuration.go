package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kamune-org/taskbag"
	"github.com/kamune-org/taskbag/internal/model"
)

// SetConfiguration replaces the configuration as a whole. Concurrent writers
// race and the last one wins.
func (s *Service) SetConfiguration(_ context.Context, cfg taskbag.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.cfgMu.Lock()
	err := s.store.Command(func(c model.Command) error {
		return c.Set(bagNS, configurationKey, encodeConfiguration(cfg))
	})
	if err != nil {
		s.cfgMu.Unlock()
		return fmt.Errorf("storing configuration: %w", err)
	}
	s.current = cfg
	s.cfgMu.Unlock()

	s.logger.Info(
		"updated bag parameters",
		slog.Int64("range_ceiling", cfg.RangeCeiling),
		slog.Int64("batch_size", cfg.BatchSize),
	)
	s.events.publish(Event{Kind: EventConfiguration, Configuration: &cfg})
	return nil
}

func (s *Service) Configuration(_ context.Context) (taskbag.Configuration, error) {
	return s.configuration(), nil
}

func (s *Service) configuration() taskbag.Configuration {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.current
}

// TaskCursor returns how many task batches have been handed out so far.
func (s *Service) TaskCursor(_ context.Context) (int64, error) {
	return s.cursor.Load(), nil
}

// AdvanceTaskCursor increments the cursor by one.
func (s *Service) AdvanceTaskCursor(_ context.Context) error {
	s.cursorMu.Lock()
	next := s.cursor.Load() + 1
	err := s.store.Command(func(c model.Command) error {
		return c.Set(bagNS, cursorKey, encodeCursor(next))
	})
	if err != nil {
		s.cursorMu.Unlock()
		return fmt.Errorf("storing cursor: %w", err)
	}
	s.cursor.Store(next)
	s.cursorMu.Unlock()

	s.events.publish(Event{Kind: EventCursor, Cursor: next})
	return nil
}
