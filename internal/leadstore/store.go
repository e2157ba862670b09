// Package leadstore loads and saves the lead spreadsheet.
//
// A Snapshot keeps every original cell. Save only rewrites managed cells whose
// value actually changed, so unmanaged columns and untouched rows round-trip
// byte for byte.
package leadstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kalambet/cadence/internal/cadence"
	"github.com/kalambet/cadence/internal/lead"
)

// Store is the lead record store. It is read whole and written whole once
// per cycle.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// codec reads and writes the raw table, header row first.
type codec interface {
	read(path string) ([][]string, error)
	write(path string, rows [][]string) error
}

// FileStore is a Store backed by one XLSX or CSV file.
type FileStore struct {
	path     string
	channels []lead.Channel
	codec    codec
	logger   *slog.Logger
}

// Open picks a codec from the file extension. The file itself is not touched
// until Load.
func Open(path string, channels []lead.Channel) (*FileStore, error) {
	s := &FileStore{path: path, channels: channels, logger: slog.Default()}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		s.codec = &xlsxCodec{}
	case ".csv":
		s.codec = csvCodec{}
	default:
		return nil, fmt.Errorf("%w: unsupported lead file %q (want .xlsx or .csv)", lead.ErrStoreUnavailable, path)
	}
	return s, nil
}

// WithLogger sets the logger and returns the store.
func (s *FileStore) WithLogger(l *slog.Logger) *FileStore {
	s.logger = l
	return s
}

// Path is the backing file.
func (s *FileStore) Path() string { return s.path }

// Load reads every row. A malformed header fails the load; malformed cells
// are recorded on the lead and surface later as record errors.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.codec.read(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", lead.ErrStoreUnavailable, s.path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has no header row", lead.ErrStoreUnavailable, s.path)
	}

	columns := normalizeHeader(rows[0])
	schema, err := cadence.DeriveSchema(columns, s.channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", lead.ErrStoreUnavailable, s.path, err)
	}

	snap := &Snapshot{
		Columns:  columns,
		Schema:   schema,
		channels: s.channels,
		header:   rows[0],
		rows:     rows[1:],
	}
	snap.index()
	for i, row := range snap.rows {
		if blank(row) {
			continue
		}
		snap.Leads = append(snap.Leads, snap.decode(i, row))
	}
	s.logger.Debug("loaded leads", "path", s.path, "leads", len(snap.Leads), "steps", len(schema.Steps))
	return snap, nil
}

// Save writes the managed cells of every lead back and replaces the file
// atomically.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	changed := 0
	for _, l := range snap.Leads {
		if snap.encode(l) {
			changed++
		}
	}
	if err := s.codec.write(s.path, snap.table()); err != nil {
		return fmt.Errorf("%w: writing %s: %w", lead.ErrStoreUnavailable, s.path, err)
	}
	s.logger.Debug("saved leads", "path", s.path, "rows_changed", changed)
	return nil
}

// Prepare adds any missing managed columns, filling counters with 0 and
// dates with blanks, and returns the names of the added columns.
func (s *FileStore) Prepare(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.codec.read(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", lead.ErrStoreUnavailable, s.path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has no header row", lead.ErrStoreUnavailable, s.path)
	}

	header := normalizeHeader(rows[0])
	missing := cadence.MissingColumns(header, s.channels)
	if len(missing) == 0 {
		return nil, nil
	}

	counters := make(map[string]bool, len(s.channels))
	for _, ch := range s.channels {
		counters[cadence.SentCountColumn(ch)] = true
	}

	width := len(header)
	out := make([][]string, len(rows))
	out[0] = append(append([]string{}, header...), missing...)
	for i, row := range rows[1:] {
		r := pad(row, width)
		for _, col := range missing {
			if counters[col] && !blank(row) {
				r = append(r, "0")
			} else {
				r = append(r, "")
			}
		}
		out[i+1] = r
	}

	if err := s.codec.write(s.path, out); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %w", lead.ErrStoreUnavailable, s.path, err)
	}
	s.logger.Info("added managed columns", "path", s.path, "columns", missing)
	return missing, nil
}

func normalizeHeader(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
	}
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func pad(row []string, width int) []string {
	out := make([]string, width, width+4)
	copy(out, row)
	return out
}
