// ABOUTME: Per-room human-readable audit trail of chat traffic
// ABOUTME: One append-only file per room, one line per text line, best effort

package chatlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DateFormat is the timestamp layout of every audit line
const DateFormat = "2006-01-02 15:04:05"

// Writer appends exchanges to <dir>/<room>.log. A Writer with an empty
// directory discards everything.
type Writer struct {
	dir    string
	loc    *time.Location
	logger *slog.Logger

	mu sync.Mutex // serializes appends so multi-line entries stay contiguous
}

// New creates a Writer rooted at dir, rendering dates in loc.
func New(dir string, loc *time.Location, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}
	return &Writer{
		dir:    dir,
		loc:    loc,
		logger: logger.With("component", "chatlog"),
	}, nil
}

// Path returns the audit file for room.
func (w *Writer) Path(room string) string {
	name := strings.ReplaceAll(room+".log", " ", "_")
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return filepath.Join(w.dir, name)
}

// Append writes text authored by sender into room's trail. Failures are
// logged, never returned: the audit trail must not break a request.
func (w *Writer) Append(room, sender, text string, at time.Time) {
	if w == nil || w.dir == "" {
		return
	}
	if room == "" {
		room = sender
	}

	entry := Format(room, sender, text, at.In(w.loc))

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.Path(room), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		w.logger.Warn("opening audit file failed", "room", room, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		w.logger.Warn("writing audit entry failed", "room", room, "error", err)
	}
}

// Format renders an entry: each line of text becomes
// "[date] [sender padded to len(room)] line".
func Format(room, sender, text string, at time.Time) string {
	date := at.Format(DateFormat)
	width := len(room)

	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(&b, "[%s] [%-*s] %s\n", date, width, sender, line)
	}
	return b.String()
}
