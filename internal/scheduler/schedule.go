// ABOUTME: Declarative conversation schedule loaded from CSV or TOML
// ABOUTME: Entries are normalized to direct intents and UTC times

package scheduler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Entry is one line of the declarative schedule
type Entry struct {
	RunAt        time.Time
	Conversation string
}

// Times without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses a schedule timestamp.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// NormalizeConversation trims name and prefixes it with "/" so it reaches
// the engine as a direct intent.
func NormalizeConversation(name string) string {
	name = strings.TrimSpace(name)
	if name != "" && !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

// LoadSchedule reads the schedule at path. Files ending in .toml are read as
// TOML, anything else as semicolon-separated CSV.
func LoadSchedule(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening schedule: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(f)
	}
	return ParseCSV(f)
}

// ParseCSV reads `run_at;conversation` rows. The first row is a header.
func ParseCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading schedule header: %w", err)
	}

	var entries []Entry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading schedule: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if len(record) < 2 {
			return nil, fmt.Errorf("schedule line %d: want run_at;conversation, got %d fields", line, len(record))
		}

		runAt, err := ParseTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("schedule line %d: %w", line, err)
		}
		entries = append(entries, Entry{RunAt: runAt, Conversation: NormalizeConversation(record[1])})
	}
	return entries, nil
}

// tomlTimeUTC converts a decoded TOML datetime to UTC. Datetimes written
// without an offset come back in the decoder's local zones and are read as
// UTC wall clock, like the CSV format.
func tomlTimeUTC(t time.Time) time.Time {
	switch t.Location().String() {
	case "datetime-local", "date-local", "time-local":
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
	return t.UTC()
}

type tomlSchedule struct {
	Conversation []struct {
		RunAt any    `toml:"run_at"`
		Name  string `toml:"name"`
	} `toml:"conversation"`
}

// ParseTOML reads `[[conversation]]` tables with run_at and name keys.
// run_at may be a TOML datetime or a string.
func ParseTOML(r io.Reader) ([]Entry, error) {
	var doc tomlSchedule
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding schedule: %w", err)
	}

	entries := make([]Entry, 0, len(doc.Conversation))
	for i, c := range doc.Conversation {
		var runAt time.Time
		switch v := c.RunAt.(type) {
		case time.Time:
			runAt = tomlTimeUTC(v)
		case string:
			t, err := ParseTime(v)
			if err != nil {
				return nil, fmt.Errorf("schedule entry %d: %w", i+1, err)
			}
			runAt = t
		default:
			return nil, fmt.Errorf("schedule entry %d: run_at must be a datetime or string", i+1)
		}
		entries = append(entries, Entry{RunAt: runAt, Conversation: NormalizeConversation(c.Name)})
	}

	return entries, nil
}
