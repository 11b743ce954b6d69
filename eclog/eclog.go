// Package eclog is the shared logger for ecbus and ecmailbox: a thin
// wrapper around logrus, the same package the closest same-domain
// reference (samsamfire-gocanopen's CANopen master) logs through.
package eclog

import (
	"github.com/sirupsen/logrus"
)

// Logger is a *logrus.Entry pre-populated with a component field, so
// every bring-up or mailbox log line is attributable at a glance.
type Logger = *logrus.Entry

// Std is the package-wide logrus instance ecbus and ecmailbox derive
// their component loggers from.
var Std = logrus.New()

// For returns a Logger tagged with component, e.g. eclog.For("ecbus").
func For(component string) Logger {
	return Std.WithField("component", component)
}

// SetLevel adjusts verbosity for the whole module; the standalone
// ecmaster binary wires this to its config's log_level.
func SetLevel(level logrus.Level) {
	Std.SetLevel(level)
}
