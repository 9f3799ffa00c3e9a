// Package logger はサブシステムごとのレベル付きロガーを提供します。
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/decred/slog"
)

// Subsystem tags.
const (
	Main        = "MAIN"
	Contest     = "CNTS"
	Steps       = "STEP"
	Leaderboard = "LDBR"
	Reward      = "RWRD"
	Quota       = "QUOT"
	Scheduler   = "SCHD"
	HTTP        = "HTTP"
	Database    = "DBSV"
)

// Backend hands out loggers that share one writer and one level.
type Backend struct {
	mu      sync.Mutex
	backend *slog.Backend
	level   slog.Level
	loggers map[string]slog.Logger
}

// New creates a backend writing to w. A nil writer means stdout.
func New(w io.Writer, level string) *Backend {
	if w == nil {
		w = os.Stdout
	}
	return &Backend{
		backend: slog.NewBackend(w),
		level:   ParseLevel(level),
		loggers: make(map[string]slog.Logger),
	}
}

// Logger returns the logger for a subsystem tag, creating it on first use.
func (b *Backend) Logger(tag string) slog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.loggers[tag]; ok {
		return l
	}
	l := b.backend.Logger(tag)
	l.SetLevel(b.level)
	b.loggers[tag] = l
	return l
}

// SetLevel changes the level of every logger handed out so far and of future ones.
func (b *Backend) SetLevel(level string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.level = ParseLevel(level)
	for _, l := range b.loggers {
		l.SetLevel(b.level)
	}
}

// ParseLevel converts a level name to slog.Level; unknown names fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warn", "warning":
		return slog.LevelWarn
	}
	if l, ok := slog.LevelFromString(strings.ToLower(strings.TrimSpace(level))); ok {
		return l
	}
	return slog.LevelInfo
}

// OrDisabled returns l, or slog.Disabled when l is nil.
func OrDisabled(l slog.Logger) slog.Logger {
	if l == nil {
		return slog.Disabled
	}
	return l
}
