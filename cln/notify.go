package cln

import (
	"bytes"
	"strings"
	"sync"
)

// logLevels maps the level tags of our log backend onto the levels
// lightningd accepts for plugin log notifications.
var logLevels = map[string]string{
	"TRC": "debug",
	"DBG": "debug",
	"INF": "info",
	"WRN": "warn",
	"ERR": "error",
	"CRT": "error",
}

// NotificationWriter adapts the plugin's log notification channel into an
// io.Writer, allowing it to be attached to the logging backend as an extra
// output. Every completed log line is forwarded to lightningd, which merges
// it into its own log under the plugin's name.
type NotificationWriter struct {
	plugin *Plugin

	mtx sync.Mutex
	buf bytes.Buffer
}

// NewNotificationWriter creates a writer forwarding log lines through the
// given plugin.
func NewNotificationWriter(plugin *Plugin) *NotificationWriter {
	return &NotificationWriter{
		plugin: plugin,
	}
}

// Write buffers the given chunk and forwards every completed line as a log
// notification. It never fails, a lost log line must not bring down the
// logger.
func (w *NotificationWriter) Write(b []byte) (int, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	w.buf.Write(b)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}

		line := string(w.buf.Next(idx + 1))
		w.forward(strings.TrimRight(line, "\r\n"))
	}

	return len(b), nil
}

// forward sends a single line to lightningd. The timestamp prefix is
// stripped since lightningd stamps log entries itself, while the subsystem
// tag is kept so the origin of the line stays visible.
func (w *NotificationWriter) forward(line string) {
	if line == "" {
		return
	}

	level := "info"
	message := line

	idx := strings.IndexByte(line, '[')
	if idx >= 0 && len(line) > idx+4 && line[idx+4] == ']' {
		if mapped, ok := logLevels[line[idx+1:idx+4]]; ok {
			level = mapped
			message = strings.TrimSpace(line[idx+5:])
		}
	}

	// Errors are swallowed on purpose, logging must never kill the
	// protocol stream it shares with the responses.
	_ = w.plugin.Log(level, message)
}
