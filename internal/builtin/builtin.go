// Package builtin provides the plugins bundled with the glue binary. Each
// plugin registers itself in the default module registry from init, so a
// manifest can refer to it by identifier.
package builtin

import (
	"github.com/sirosfoundation/go-glue/pkg/glue"
)

// Version is reported by the status plugin.
const Version = "0.1.0"

// Plugin identifiers.
const (
	StatusID = "status"
	ReplyID  = "reply"
)

func init() {
	Register(StatusID, Status)
	Register(ReplyID, NewReply)
}

// Register adds a module to the default registry. It panics on duplicate
// identifiers.
func Register(id string, module any) {
	glue.DefaultRegistry.MustRegister(id, module)
}

// Registry returns the registry holding the bundled plugins and cache
// engines.
func Registry() *glue.Registry {
	return glue.DefaultRegistry
}
