// ABOUTME: Conversation export: one TSV (or HTML transcript) file per user with messages
// ABOUTME: Styled message markup is split into text, style and data columns

package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/2389/parley/internal/store"
)

// Formats
const (
	FormatTSV  = "tsv"
	FormatHTML = "html"
)

// Header is the first TSV row
var Header = []string{"DATE", "USER", "STYLE", "DATA", "TEXT"}

// Store is the subset of store.Store the exporter needs
type Store interface {
	ListUsers(ctx context.Context) ([]*store.User, error)
	RoomMessagesSince(ctx context.Context, room string, from int64) ([]*store.Message, error)
}

// Row is one exported message
type Row struct {
	Date  string
	User  string
	Style string
	Data  string
	Text  string
}

func (r Row) fields() []string {
	return []string{r.Date, r.User, r.Style, r.Data, r.Text}
}

// Exporter writes conversation exports
type Exporter struct {
	store  Store
	loc    *time.Location
	logger *slog.Logger
}

// New creates an Exporter formatting dates in loc (nil means UTC).
func New(st Store, loc *time.Location, logger *slog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: st, loc: loc, logger: logger.With("component", "export")}
}

// Rows returns the export rows of username's room in log order.
func (e *Exporter) Rows(ctx context.Context, username string) ([]Row, error) {
	msgs, err := e.store.RoomMessagesSince(ctx, username, -1)
	if err != nil {
		return nil, fmt.Errorf("reading room %s: %w", username, err)
	}

	rows := make([]Row, 0, len(msgs))
	for _, m := range msgs {
		text, data, style := ParseMarkup(m.Text)
		rows = append(rows, Row{
			Date:  time.UnixMilli(m.Timestamp).In(e.loc).Format(time.DateTime),
			User:  m.Sender,
			Style: style,
			Data:  data,
			Text:  text,
		})
	}
	return rows, nil
}

// FileName is the export file name for username
func FileName(username, format string) string {
	return strings.ReplaceAll("conversations."+username+"."+format, " ", "_")
}

// ExportAll writes one file per user with messages into dir, users sorted by
// name. Returns the written paths.
func (e *Exporter) ExportAll(ctx context.Context, dir, format string) ([]string, error) {
	if format != FormatTSV && format != FormatHTML {
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	var written []string
	for _, u := range users {
		rows, err := e.Rows(ctx, u.Username)
		if err != nil {
			return written, err
		}
		if len(rows) == 0 {
			continue
		}

		path := filepath.Join(dir, FileName(u.Username, format))
		if err := writeFile(path, func(w io.Writer) error {
			if format == FormatHTML {
				return WriteHTML(w, u.Username, rows)
			}
			return WriteTSV(w, rows)
		}); err != nil {
			return written, err
		}
		written = append(written, path)
		e.logger.Debug("exported conversation", "username", u.Username, "messages", len(rows))
	}

	e.logger.Info("export finished", "files", len(written), "format", format)
	return written, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

// WriteTSV writes the header and rows tab-separated, quoting only where needed.
func WriteTSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.fields()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
