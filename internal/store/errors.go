package store

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("artifact not found")

// PersistenceError reports a filesystem failure while writing or copying artifacts.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
