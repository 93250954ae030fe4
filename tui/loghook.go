package tui

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const maxMessageLength = 200

// TUILogHook is a logrus hook that captures log entries for the log panel
type TUILogHook struct {
	app    *App
	levels []logrus.Level
}

// NewTUILogHook creates a new TUI log hook
func NewTUILogHook(app *App) *TUILogHook {
	return &TUILogHook{
		app:    app,
		levels: logrus.AllLevels,
	}
}

// Levels returns the available logging levels
func (hook *TUILogHook) Levels() []logrus.Level {
	return hook.levels
}

// Fire is called when a logging event is fired
func (hook *TUILogHook) Fire(entry *logrus.Entry) error {
	if hook.app == nil {
		return nil
	}

	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}

	// one line per entry in the panel
	message := strings.ReplaceAll(entry.Message, "\n", " ")
	if len(message) > maxMessageLength {
		message = message[:maxMessageLength] + "..."
	}

	hook.app.addLogEntry(strings.ToUpper(entry.Level.String()), message, fields)
	return nil
}

// SetupTUILogging routes log entries to the TUI panel and, when logFile is
// not nil, to that file. Nothing is written to the terminal.
func SetupTUILogging(app *App, logFile *os.File) {
	logrus.AddHook(NewTUILogHook(app))

	if logFile != nil {
		logrus.SetOutput(logFile)
	} else {
		logrus.SetOutput(io.Discard)
	}
}
