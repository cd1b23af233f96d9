/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"io"
	"os"
	"sync"

	"github.com/ssgreg/logf"
	"github.com/ssgreg/logftext"

	"github.com/acronis/go-ratelimit/log"
)

// LoggerOpts contains optional parameters for NewLoggerWithOpts.
type LoggerOpts struct {
	// Output is os.Stderr if nil.
	Output io.Writer
	// Level is log.LevelDebug if empty.
	Level log.Level
}

// NewLogger returns a synchronous text logger writing everything (debug level included) to stderr.
// It's slow and must not be used outside of tests.
func NewLogger() log.FieldLogger {
	return NewLoggerWithOpts(LoggerOpts{})
}

// NewLoggerWithOpts returns a synchronous text logger configured with opts.
func NewLoggerWithOpts(opts LoggerOpts) log.FieldLogger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	level := opts.Level
	if level == "" {
		level = log.LevelDebug
	}
	noColor := true
	w := &syncAppender{appender: logftext.NewAppender(output, logftext.EncoderConfig{NoColor: &noColor})}
	return (&log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, w)}).WithLevel(level)
}

// syncAppender writes every entry immediately, so the output is complete when the test finishes.
type syncAppender struct {
	mu       sync.Mutex
	appender logf.Appender
}

//nolint:gocritic // logf.EntryWriter passes entries by value.
func (w *syncAppender) WriteEntry(e logf.Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.appender.Append(e); err != nil {
		return
	}
	_ = w.appender.Flush()
}
