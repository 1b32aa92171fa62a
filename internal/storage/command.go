package storage

import (
	"fmt"

	"github.com/kamune-org/taskbag/internal/model"
)

func (c *Command) Delete(ns model.Namespace, name []byte) error {
	if err := c.tx.Delete(ns.Key(name)); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

func (c *Command) Set(ns model.Namespace, name, value []byte) error {
	if err := c.tx.Set(ns.Key(name), value); err != nil {
		return fmt.Errorf("setting key: %w", err)
	}
	return nil
}
