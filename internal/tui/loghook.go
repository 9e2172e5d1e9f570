package tui

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// logLine is one formatted entry captured by LogHook.
type logLine struct {
	level log.Level
	text  string
}

// LogHook is a logrus hook feeding the logs tab. When the buffer is full the
// oldest line is dropped so logging never blocks.
type LogHook struct {
	ch        chan logLine
	mu        sync.Mutex
	formatter log.Formatter
}

// NewLogHook creates a hook buffering up to bufSize lines.
func NewLogHook(bufSize int) *LogHook {
	if bufSize < 1 {
		bufSize = 1
	}
	return &LogHook{
		ch:        make(chan logLine, bufSize),
		formatter: &log.TextFormatter{DisableColors: true, FullTimestamp: true},
	}
}

// SetFormatter sets the formatter used to render captured entries.
func (h *LogHook) SetFormatter(f log.Formatter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.formatter = f
}

// Levels implements log.Hook.
func (h *LogHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements log.Hook.
func (h *LogHook) Fire(entry *log.Entry) error {
	h.mu.Lock()
	f := h.formatter
	h.mu.Unlock()

	text := entry.Message
	if f != nil {
		if b, err := f.Format(entry); err == nil {
			text = string(b)
		}
	}
	line := logLine{level: entry.Level, text: strings.TrimRight(text, "\r\n")}

	for {
		select {
		case h.ch <- line:
			return nil
		default:
		}
		select {
		case <-h.ch:
		default:
		}
	}
}

func (h *LogHook) lines() <-chan logLine {
	return h.ch
}
