// Package xlog provides the agent's structured-logging convention: every
// component gets a *logrus.Entry pre-populated with its component name,
// never a shared mutable global logger. Log sinks (syslog hooks, file
// rotation, ...) are an external collaborator per spec.md §1; this
// package only shapes what gets logged, not where it goes.
package xlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the root logger. Callers normally only need one of these
// for the whole process (typically constructed in cmd/scanagent and
// threaded down via For).
func New(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// For returns a component-scoped entry. Every field logged from the
// component will carry component=name.
func For(l *logrus.Logger, component string) *logrus.Entry {
	return l.WithField("component", component)
}
