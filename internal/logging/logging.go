// Package logging builds the shared logger used by the hosts and handed to
// the engine components.
package logging

import (
	"os"

	clog "github.com/charmbracelet/log"
)

// New returns a logger writing to stderr at the given level. Unknown level
// strings fall back to info.
func New(level string) *clog.Logger {
	logger := clog.NewWithOptions(os.Stderr, clog.Options{
		ReportTimestamp: true,
		Prefix:          "chatcmd",
	})
	if lvl, err := clog.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(clog.InfoLevel)
	}
	return logger
}
