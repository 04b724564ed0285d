package glue

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidOptions matches every OptionsError.
	ErrInvalidOptions = errors.New("invalid compose options")
	// ErrInvalidManifest matches every ValidationError.
	ErrInvalidManifest = errors.New("invalid manifest")
	// ErrPluginLoad matches every LoadError.
	ErrPluginLoad = errors.New("plugin load failed")
	// ErrModuleNotFound is returned by Registry.Load for unknown identifiers.
	ErrModuleNotFound = errors.New("module not found")
)

// OptionsError is returned when Compose is called with unusable arguments.
// Nothing is inspected beyond the arguments themselves.
type OptionsError struct {
	Reason string
}

func (e *OptionsError) Error() string {
	return "Invalid compose options: " + e.Reason
}

func (e *OptionsError) Is(target error) bool {
	return target == ErrInvalidOptions
}

// ValidationError is returned when the manifest does not match the
// manifest schema once defaults are applied.
type ValidationError struct {
	Message string
	Details []string
}

func newValidationError(details ...string) *ValidationError {
	return &ValidationError{Message: "Invalid manifest options", Details: details}
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidManifest
}

// LoadError is returned when a plugin or cache engine identifier cannot be
// turned into a usable module.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("Failed loading %s: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == ErrPluginLoad
}
