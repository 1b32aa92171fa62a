package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/kamune-org/taskbag"
	"github.com/kamune-org/taskbag/internal/model"
)

type QueueStats struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Stats is a snapshot of the whole bag.
type Stats struct {
	Queues        []QueueStats          `json:"queues"`
	Configuration taskbag.Configuration `json:"configuration"`
	Cursor        int64                 `json:"cursor"`
	Waiting       int64                 `json:"waiting"`
	Subscribers   int                   `json:"subscribers"`
}

func (s *Service) Stats(_ context.Context) (Stats, error) {
	st := Stats{
		Configuration: s.configuration(),
		Cursor:        s.cursor.Load(),
		Waiting:       s.waiting.Load(),
		Subscribers:   s.events.count(),
	}
	err := s.store.Query(func(q model.Query) error {
		names, err := q.QNames()
		if err != nil {
			return err
		}
		for _, name := range names {
			n, err := q.QLen(name)
			if err != nil {
				return err
			}
			st.Queues = append(st.Queues, QueueStats{Key: string(name), Count: int(n)})
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("listing queues: %w", err)
	}
	slices.SortFunc(st.Queues, func(a, b QueueStats) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return st, nil
}
