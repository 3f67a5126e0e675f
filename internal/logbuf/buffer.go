// Package logbuf keeps the user-visible, append-only session log.
package logbuf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Severities shown to the user.
const (
	LevelInfo    = "Info"
	LevelWarning = "Warning"
	LevelError   = "Error"
)

// TimeFormat is the timestamp layout of rendered entries.
const TimeFormat = "2006-01-02 15:04:05"

// Entry is one line of the log.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s : %s : %s", e.Time.Format(TimeFormat), e.Level, e.Message)
}

// Buffer collects entries in memory. It is a logrus.Hook, so attaching it
// to a logger mirrors every Info, Warning and Error message into it.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	onNew   func(Entry)
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Levels implements logrus.Hook.
func (b *Buffer) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

// Fire implements logrus.Hook.
func (b *Buffer) Fire(e *logrus.Entry) error {
	b.Add(levelName(e.Level), e.Message)
	return nil
}

func levelName(l logrus.Level) string {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return LevelError
	case logrus.WarnLevel:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Add appends an entry stamped with the current time.
func (b *Buffer) Add(level, message string) {
	e := Entry{Time: time.Now(), Level: level, Message: message}

	b.mu.Lock()
	b.entries = append(b.entries, e)
	onNew := b.onNew
	b.mu.Unlock()

	if onNew != nil {
		onNew(e)
	}
}

// OnNew registers a callback run after every appended entry.
func (b *Buffer) OnNew(fn func(Entry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onNew = fn
}

// Entries returns a copy of all entries in order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

// Last returns the newest entry.
func (b *Buffer) Last() (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// String renders the whole log, one entry per line.
func (b *Buffer) String() string {
	var sb strings.Builder
	for _, e := range b.Entries() {
		sb.WriteString(e.String())
		sb.WriteString(" \n")
	}
	return sb.String()
}

// Clear drops every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// Save writes the rendered log to path.
func (b *Buffer) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing log to %s: %w", path, err)
	}
	return nil
}

// SaveTimestamped writes the log to dir/<timestamp>.log and returns the path.
func (b *Buffer) SaveTimestamped(dir string, at time.Time) (string, error) {
	path := filepath.Join(dir, at.Format("2006-01-02_15-04-05")+".log")
	return path, b.Save(path)
}
