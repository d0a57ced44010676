// Package log provides the structured logging indirection used throughout
// the validator. It is deliberately small: a single global logrus instance,
// plus the PrefixedLog accessor and the Decision.Entry field helper.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// nolint:gochecknoglobals
var logger = logrus.New()

func init() {
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})
}

// Log returns the package-global logrus instance, for callers that want to
// reconfigure level/format/output directly.
func Log() *logrus.Logger {
	return logger
}

// PrefixedLog returns the global logger scoped with a "prefix" field
// identifying the component emitting a record, e.g. "keycache", "orchestrator".
func PrefixedLog(prefix string) *logrus.Entry {
	return logger.WithField("prefix", prefix)
}

// SetLevel adjusts the global log level, e.g. from a loaded Config.
func SetLevel(level logrus.Level) {
	logger.SetLevel(level)
}

// Silence discards all log output; used by tests that don't want validation
// chatter in their output.
func Silence() {
	logger.SetOutput(io.Discard)
}

// Decision carries the fields attached to every per-RRset and per-message
// validation log record: qname, qtype, the signer zone, and the resulting
// status/reason. Entry() turns it into a ready-to-use *logrus.Entry so call
// sites don't repeat the WithFields boilerplate.
type Decision struct {
	Qname  string
	Qtype  string
	Zone   string
	Status string
	Reason string
}

func (d Decision) Entry(prefix string) *logrus.Entry {
	e := PrefixedLog(prefix)
	if d.Qname != "" {
		e = e.WithField("qname", d.Qname)
	}
	if d.Qtype != "" {
		e = e.WithField("qtype", d.Qtype)
	}
	if d.Zone != "" {
		e = e.WithField("zone", d.Zone)
	}
	if d.Status != "" {
		e = e.WithField("status", d.Status)
	}
	if d.Reason != "" && d.Reason != "none" {
		e = e.WithField("reason", d.Reason)
	}
	return e
}
