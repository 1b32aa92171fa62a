package taskbag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kamune-org/taskbag/pkg/primes"
)

// WorkerState is a step of the single shot worker run.
type WorkerState int

const (
	StateStart WorkerState = iota
	StateCheckAvailability
	StateFetchTask
	StateCompute
	StatePublishResult
	StateDone
)

func (s WorkerState) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateCheckAvailability:
		return "CheckAvailability"
	case StateFetchTask:
		return "FetchTask"
	case StateCompute:
		return "Compute"
	case StatePublishResult:
		return "PublishResult"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

// WorkerReport describes how a worker run ended. State is the last state
// entered; it is StateDone after every run that did not fail.
type WorkerReport struct {
	ID        string
	State     WorkerState
	Task      Batch
	Primes    []int64
	Published bool
}

type worker struct {
	id     string
	logger *slog.Logger
	tasks  string
	result string
}

type WorkerOption func(*worker) error

func WorkerWithID(id string) WorkerOption {
	return func(w *worker) error {
		if id == "" {
			return errors.New("worker id cannot be empty")
		}
		w.id = id
		return nil
	}
}

func WorkerWithLogger(logger *slog.Logger) WorkerOption {
	return func(w *worker) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		w.logger = logger
		return nil
	}
}

// WorkerWithKeys overrides the keys tasks are taken from and results are
// published under. A store only advances its task cursor for its configured
// task queue, so a custom tasks key should match that setting.
func WorkerWithKeys(tasks, results string) WorkerOption {
	return func(w *worker) error {
		if tasks == "" || results == "" {
			return errors.New("keys cannot be empty")
		}
		w.tasks, w.result = tasks, results
		return nil
	}
}

// RunWorker takes at most one task batch from bag, finds the primes in it and
// publishes them as a single result batch. Nothing is published when the
// batch holds no primes. Running out of tasks is not an error.
func RunWorker(ctx context.Context, bag Bag, opts ...WorkerOption) (WorkerReport, error) {
	w := &worker{
		id:     uuid.NewString(),
		logger: slog.Default(),
		tasks:  TasksKey,
		result: ResultsKey,
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return WorkerReport{State: StateStart}, fmt.Errorf("applying options: %w", err)
		}
	}
	logger := w.logger.With(slog.String("worker", w.id))
	report := WorkerReport{ID: w.id, State: StateStart}

	report.State = StateCheckAvailability
	available, err := bag.Count(ctx, w.tasks)
	if err != nil {
		return report, fmt.Errorf("counting tasks: %w", err)
	}
	logger.Info("available tasks", slog.Int("count", available))
	if available == 0 {
		logger.Info("no tasks left, exiting")
		report.State = StateDone
		return report, nil
	}

	report.State = StateFetchTask
	task, ok, err := bag.Take(ctx, w.tasks)
	if err != nil {
		return report, fmt.Errorf("taking task: %w", err)
	}
	if !ok || len(task) == 0 {
		logger.Info("no tasks left, exiting")
		report.State = StateDone
		return report, nil
	}
	report.Task = task
	logger.Info("processing task", slog.Any("task", []int64(task)))

	report.State = StateCompute
	found := primes.Find(task)
	report.Primes = found
	if len(found) == 0 {
		logger.Info("no primes in task")
		report.State = StateDone
		return report, nil
	}

	report.State = StatePublishResult
	if err := bag.Publish(ctx, w.result, Batch(found)); err != nil {
		return report, fmt.Errorf("publishing result: %w", err)
	}
	report.Published = true
	logger.Info("published primes", slog.Any("primes", found))

	report.State = StateDone
	return report, nil
}
