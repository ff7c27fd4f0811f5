package agent

import (
	"github.com/scanbridge/agent/internal/netiface"
)

// Option configures a Supervisor at construction time, applied in New
// before any component is started.
type Option func(*Supervisor)

// WithResolver overrides the default netiface.SystemResolver, e.g. to
// inject netiface.Static in tests or in environments where interface
// enumeration is supplied externally (spec.md §9).
func WithResolver(r netiface.Resolver) Option {
	return func(s *Supervisor) {
		s.resolver = r
	}
}
