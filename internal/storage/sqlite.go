package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/cadence/internal/lead"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the send journal: every cycle and every provider call it made.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "cadence.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Cycles ---

// StartCycle inserts a cycle row; an empty status means running.
func (s *Store) StartCycle(c Cycle) error {
	status := c.Status
	if status == "" {
		status = CycleRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO cycles (id, started_at, mode, channel, status)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt.UTC().Format(time.RFC3339), c.Mode, c.Channel, status,
	)
	return err
}

// FinishCycle stores the final counters and status of a cycle.
func (s *Store) FinishCycle(c Cycle) error {
	finished := time.Now().UTC()
	if c.FinishedAt != nil {
		finished = c.FinishedAt.UTC()
	}
	res, err := s.db.Exec(`
		UPDATE cycles SET finished_at = ?, status = ?, loaded = ?, eligible = ?, excluded = ?,
			sent = ?, failed = ?, skipped = ?, error = ?
		WHERE id = ?`,
		finished.Format(time.RFC3339), c.Status, c.Loaded, c.Eligible, c.Excluded,
		c.Sent, c.Failed, c.Skipped, c.Error, c.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const cycleColumns = `id, started_at, finished_at, mode, channel, status, loaded, eligible, excluded, sent, failed, skipped, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(row scanner) (Cycle, error) {
	var c Cycle
	var startedAt string
	var finishedAt sql.NullString
	if err := row.Scan(&c.ID, &startedAt, &finishedAt, &c.Mode, &c.Channel, &c.Status,
		&c.Loaded, &c.Eligible, &c.Excluded, &c.Sent, &c.Failed, &c.Skipped, &c.Error); err != nil {
		return Cycle{}, err
	}
	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return Cycle{}, fmt.Errorf("parsing started_at: %w", err)
	}
	c.StartedAt = t
	if finishedAt.Valid && finishedAt.String != "" {
		f, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return Cycle{}, fmt.Errorf("parsing finished_at: %w", err)
		}
		c.FinishedAt = &f
	}
	return c, nil
}

// GetCycle returns one cycle by id, or ErrNotFound.
func (s *Store) GetCycle(id string) (Cycle, error) {
	c, err := scanCycle(s.db.QueryRow(`SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Cycle{}, ErrNotFound
	}
	return c, err
}

// RecentCycles returns the newest cycles first.
func (s *Store) RecentCycles(limit int) ([]Cycle, error) {
	rows, err := s.db.Query(`SELECT `+cycleColumns+` FROM cycles ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Sends ---

// RecordSend journals one provider call, successful or not.
func (s *Store) RecordSend(snd Send) error {
	_, err := s.db.Exec(`
		INSERT INTO sends (id, cycle_id, email, channel, step_index, channel_step, campaign_id, template, sent_at, status, error, applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snd.ID, snd.CycleID, lead.NormalizeEmail(snd.Email), snd.Channel, snd.StepIndex, snd.ChannelStep,
		snd.CampaignID, snd.Template, snd.SentAt.UTC().Format(time.RFC3339), snd.Status, snd.Error, snd.Applied,
	)
	return err
}

const sendColumns = `id, cycle_id, email, channel, step_index, channel_step, campaign_id, template, sent_at, status, error, applied`

func scanSend(row scanner) (Send, error) {
	var snd Send
	var sentAt string
	if err := row.Scan(&snd.ID, &snd.CycleID, &snd.Email, &snd.Channel, &snd.StepIndex, &snd.ChannelStep,
		&snd.CampaignID, &snd.Template, &sentAt, &snd.Status, &snd.Error, &snd.Applied); err != nil {
		return Send{}, err
	}
	t, err := time.Parse(time.RFC3339, sentAt)
	if err != nil {
		return Send{}, fmt.Errorf("parsing sent_at: %w", err)
	}
	snd.SentAt = t
	return snd, nil
}

func (s *Store) querySends(query string, args ...any) ([]Send, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Send
	for rows.Next() {
		snd, err := scanSend(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, snd)
	}
	return results, rows.Err()
}

// FindSent returns the earliest successful send of a lead step that never
// reached the lead store, or ErrNotFound. Applied sends are history only.
func (s *Store) FindSent(email, channel string, stepIndex int) (Send, error) {
	snd, err := scanSend(s.db.QueryRow(`
		SELECT `+sendColumns+` FROM sends
		WHERE email = ? AND channel = ? AND step_index = ? AND status = ? AND applied = 0
		ORDER BY sent_at ASC, rowid ASC LIMIT 1`,
		lead.NormalizeEmail(email), channel, stepIndex, SendSent,
	))
	if err == sql.ErrNoRows {
		return Send{}, ErrNotFound
	}
	return snd, err
}

// UnappliedSends lists successful sends whose outcome never reached the lead
// store, oldest first.
func (s *Store) UnappliedSends() ([]Send, error) {
	return s.querySends(`SELECT `+sendColumns+` FROM sends
		WHERE status = ? AND applied = 0 ORDER BY sent_at ASC, rowid ASC`, SendSent)
}

// SendsForCycle lists the sends of one cycle in insertion order.
func (s *Store) SendsForCycle(cycleID string) ([]Send, error) {
	return s.querySends(`SELECT `+sendColumns+` FROM sends WHERE cycle_id = ? ORDER BY rowid ASC`, cycleID)
}

// MarkApplied flags sends as persisted to the lead store.
func (s *Store) MarkApplied(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`UPDATE sends SET applied = 1 WHERE id IN (?`+placeholders+`)`, args...)
	return err
}
