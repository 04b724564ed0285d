package server

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingDependency matches every DependencyError.
	ErrMissingDependency = errors.New("missing plugin dependency")
	// ErrAlreadyStarted is returned by Start on a running server.
	ErrAlreadyStarted = errors.New("server already started")
	// ErrInvalidPlugin is returned when a plugin cannot be registered.
	ErrInvalidPlugin = errors.New("invalid plugin")
	// ErrRouteConflict is returned when a plugin adds a route that already
	// exists on a connection.
	ErrRouteConflict = errors.New("route conflict")
)

// DependencyError reports a plugin whose declared dependency is not
// registered on one of its connections. It is detected on Start.
type DependencyError struct {
	Plugin     string
	Dependency string
	Connection string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("Plugin %s missing dependency %s in connection: %s", e.Plugin, e.Dependency, e.Connection)
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrMissingDependency
}
