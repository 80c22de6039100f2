package gotftp

import (
	"log"
	"os"
)

// Logger is the sink a Server or Client writes its activity log to
// (spec.md §7: "the server logs every transfer's start, peer TID,
// negotiated options, and completion status"). The teacher's original
// log.go (eahydra-gotftp/log.go) used one package-global handler with a
// global verbose flag; here the same logf shape is bound per-instance so
// multiple Servers/Clients in one process don't share (and fight over) a
// single log destination.
type Logger struct {
	verbose bool
	std     *log.Logger
}

// NewLogger wraps l (or a default stdout logger, if l is nil) as a
// gotftp Logger. verbose gates logf, matching the teacher's
// EnableVerbose toggle.
func NewLogger(l *log.Logger, verbose bool) *Logger {
	if l == nil {
		l = log.New(os.Stdout, "gotftp ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Logger{std: l, verbose: verbose}
}

func (lg *Logger) logf(format string, v ...interface{}) {
	if lg == nil || !lg.verbose {
		return
	}
	lg.std.Printf(format, v...)
}
