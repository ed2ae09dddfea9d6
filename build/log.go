package build

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
)

// LogWriter is the io.Writer that all subsystem loggers write to. A plugin's
// stdout carries the lightningd wire protocol, so log output is written to
// stderr instead, plus the rotator pipe and the lightningd notifier when they
// have been set up.
type LogWriter struct {
	// RotatorPipe is the write-end pipe for writing to the log rotator. It
	// is written to by the Write method of the LogWriter type. Leaving it
	// nil disables file logging.
	RotatorPipe *io.PipeWriter

	// NotifyPipe forwards log output to lightningd as log notifications
	// once the plugin handshake has completed. Leaving it nil disables
	// forwarding.
	NotifyPipe io.Writer
}

// Write writes the byte slice to stderr and to the optional rotator and
// notifier pipes.
func (w *LogWriter) Write(b []byte) (int, error) {
	os.Stderr.Write(b)
	if w.RotatorPipe != nil {
		w.RotatorPipe.Write(b)
	}
	if w.NotifyPipe != nil {
		w.NotifyPipe.Write(b)
	}

	return len(b), nil
}

// NewSubLogger constructs a new subsystem log from the current LogWriter
// implementation. If no sublogger constructor is provided, logging is
// disabled until the caller installs a real logger via the package's
// UseLogger function.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return btclog.Disabled
}
