package storage

import (
	"fmt"

	"github.com/kamune-org/taskbag/internal/config"
	"github.com/kamune-org/taskbag/internal/model"
	"github.com/kamune-org/taskbag/internal/storage/boltdb"
)

// New opens the engine named by cfg.Engine.
func New(cfg config.Storage) (model.Store, error) {
	switch cfg.Engine {
	case config.EngineBadger, "":
		return Open(cfg)
	case config.EngineBolt:
		return boltdb.Open(cfg)
	default:
		return nil, fmt.Errorf("unknown storage engine: %q", cfg.Engine)
	}
}
