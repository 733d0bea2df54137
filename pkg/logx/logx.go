// Package logx configures go-logging backends for the panel: plain
// writers for command line use and a callback backend for the TUI log pane.
package logx

import (
	"fmt"
	"io"

	"github.com/op/go-logging"
)

// DefaultFormat is used for every backend
const DefaultFormat = `%{time:15:04:05.000} %{level:.4s} [%{module}] %{message}`

var formatter = logging.MustStringFormatter(DefaultFormat)

// Setup routes all module loggers to w at the given level
// ("debug", "info", "warning", "error", ...).
func Setup(w io.Writer, level string) (logging.LeveledBackend, error) {
	return SetupBackend(logging.NewLogBackend(w, "", 0), level)
}

// SetupBackend installs b, formatted, as the only log backend
func SetupBackend(b logging.Backend, level string) (logging.LeveledBackend, error) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	leveled := logging.SetBackend(logging.NewBackendFormatter(b, formatter))
	leveled.SetLevel(lvl, "")
	return leveled, nil
}

// FuncBackend hands each formatted line to a function
type FuncBackend func(level logging.Level, line string)

// Log implements logging.Backend
func (f FuncBackend) Log(level logging.Level, calldepth int, rec *logging.Record) error {
	f(level, rec.Formatted(calldepth+1))
	return nil
}
