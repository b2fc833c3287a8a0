package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoptrail/hoptrail/internal/chain"
	"github.com/hoptrail/hoptrail/internal/config"
	"github.com/hoptrail/hoptrail/internal/logger"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// Entry is one persisted redirect chain.
type Entry struct {
	ID            string           `json:"id"`
	OriginalURL   string           `json:"originalUrl"`
	FinalURL      string           `json:"finalUrl"`
	Hops          []chain.Hop      `json:"hops"`
	Timestamp     time.Time        `json:"timestamp"`
	Score         chain.ChainScore `json:"chainScore"`
	TotalTimeMs   int64            `json:"totalTimeMs"`
	RedirectCount int              `json:"redirectCount"`
	Tags          []string         `json:"tags,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	IsFavorite    bool             `json:"isFavorite"`
}

// ListOptions filters and pages a history listing.
type ListOptions struct {
	Search        string // matches original or final URL, substring
	FavoritesOnly bool
	SortOrder     string // "asc" or "desc" by timestamp, default "desc"
	Limit         int
	Offset        int
}

// EntryUpdate carries the user-editable fields of an entry. Nil fields are
// left unchanged.
type EntryUpdate struct {
	Tags       *[]string
	Notes      *string
	IsFavorite *bool
}

// Store defines the interface for chain history persistence
type Store interface {
	Save(hops []chain.Hop) (*Entry, error)
	Get(id string) (*Entry, error)
	List(opts ListOptions) ([]*Entry, error)
	Count() (int, error)
	Update(id string, upd EntryUpdate) error
	Delete(id string) error
	Clear() error

	CleanupOldEntries(ttl time.Duration) (int64, error)
	CleanupExcessEntries(maxEntries int) (int64, error)

	Close() error
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-backed history store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".hoptrail", "history", "history.db")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// WAL mode so the daemon and CLI can read concurrently
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().
		Str("path", dbPath).
		Msg("Opened history store")

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		original_url TEXT NOT NULL,
		final_url TEXT NOT NULL,
		hops TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		score INTEGER NOT NULL,
		grade TEXT NOT NULL,
		score_detail TEXT NOT NULL,
		total_time_ms INTEGER NOT NULL,
		redirect_count INTEGER NOT NULL,
		tags TEXT,
		notes TEXT,
		is_favorite INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_entries_original_url ON entries(original_url);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save persists a completed chain as a new history entry, computing its
// score internally. A chain with zero hops is never persisted.
func (s *SQLiteStore) Save(hops []chain.Hop) (*Entry, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("refusing to persist an empty chain")
	}

	entry := &Entry{
		ID:            uuid.NewString(),
		OriginalURL:   hops[0].URL,
		FinalURL:      hops[len(hops)-1].URL,
		Hops:          hops,
		Timestamp:     time.Now(),
		Score:         chain.Score(hops),
		TotalTimeMs:   chain.TotalTimeMs(hops),
		RedirectCount: chain.RedirectCount(hops),
	}

	hopsJSON, err := json.Marshal(entry.Hops)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hops: %w", err)
	}
	scoreJSON, err := json.Marshal(entry.Score)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO entries (id, original_url, final_url, hops, timestamp, score, grade, score_detail, total_time_ms, redirect_count, tags, notes, is_favorite)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		entry.ID,
		entry.OriginalURL,
		entry.FinalURL,
		string(hopsJSON),
		entry.Timestamp.Unix(),
		entry.Score.Score,
		entry.Score.Grade,
		string(scoreJSON),
		entry.TotalTimeMs,
		entry.RedirectCount,
		"",
		"",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store entry: %w", err)
	}

	return entry, nil
}

// Get retrieves an entry by ID
func (s *SQLiteStore) Get(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, original_url, final_url, hops, timestamp, score_detail, total_time_ms, redirect_count, tags, notes, is_favorite
		 FROM entries WHERE id = ?`,
		id,
	)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return entry, nil
}

// List returns entries matching the given options, newest first by default
func (s *SQLiteStore) List(opts ListOptions) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, original_url, final_url, hops, timestamp, score_detail, total_time_ms, redirect_count, tags, notes, is_favorite
	          FROM entries`

	var conds []string
	var args []any

	if opts.Search != "" {
		conds = append(conds, "(original_url LIKE ? OR final_url LIKE ?)")
		pattern := "%" + opts.Search + "%"
		args = append(args, pattern, pattern)
	}
	if opts.FavoritesOnly {
		conds = append(conds, "is_favorite = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	if opts.SortOrder == "asc" {
		query += " ORDER BY timestamp ASC"
	} else {
		query += " ORDER BY timestamp DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Count returns the total number of entries
func (s *SQLiteStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// Update modifies the user-editable fields of an entry
func (s *SQLiteStore) Update(id string, upd EntryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sets []string
	var args []any

	if upd.Tags != nil {
		tagsJSON, err := json.Marshal(*upd.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(tagsJSON))
	}
	if upd.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *upd.Notes)
	}
	if upd.IsFavorite != nil {
		sets = append(sets, "is_favorite = ?")
		if *upd.IsFavorite {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	result, err := s.db.Exec("UPDATE entries SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("entry not found: %s", id)
	}

	return nil
}

// Delete removes an entry
func (s *SQLiteStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("entry not found: %s", id)
	}

	return nil
}

// Clear removes all entries
func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// CleanupOldEntries removes entries older than the given TTL
func (s *SQLiteStore) CleanupOldEntries(ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl).Unix()

	result, err := s.db.Exec("DELETE FROM entries WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old entries: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		logger.Debug().
			Int64("deleted", deleted).
			Str("ttl", ttl.String()).
			Msg("Cleaned up old history entries")
	}

	return deleted, nil
}

// CleanupExcessEntries removes the oldest entries beyond maxEntries
func (s *SQLiteStore) CleanupExcessEntries(maxEntries int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}

	if count <= maxEntries {
		return 0, nil
	}

	toDelete := count - maxEntries
	result, err := s.db.Exec(
		`DELETE FROM entries WHERE id IN (
			SELECT id FROM entries ORDER BY timestamp ASC LIMIT ?
		)`,
		toDelete,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete excess entries: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		logger.Debug().
			Int64("deleted", deleted).
			Msg("Cleaned up excess history entries")
	}

	return deleted, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var timestamp int64
	var hopsJSON, scoreJSON string
	var tags, notes sql.NullString
	var isFavorite int

	err := row.Scan(
		&entry.ID,
		&entry.OriginalURL,
		&entry.FinalURL,
		&hopsJSON,
		&timestamp,
		&scoreJSON,
		&entry.TotalTimeMs,
		&entry.RedirectCount,
		&tags,
		&notes,
		&isFavorite,
	)
	if err != nil {
		return nil, err
	}

	entry.Timestamp = time.Unix(timestamp, 0)
	entry.Notes = notes.String
	entry.IsFavorite = isFavorite != 0

	if err := json.Unmarshal([]byte(hopsJSON), &entry.Hops); err != nil {
		logger.Debug().Err(err).Msg("Failed to unmarshal hops")
	}
	if err := json.Unmarshal([]byte(scoreJSON), &entry.Score); err != nil {
		logger.Debug().Err(err).Msg("Failed to unmarshal score")
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &entry.Tags); err != nil {
			logger.Debug().Err(err).Msg("Failed to unmarshal tags")
		}
	}

	return &entry, nil
}

// MaybeRunCleanup runs retention cleanup with the configured probability,
// in the background so saves never wait on it.
func MaybeRunCleanup(store Store, settings config.HistorySettings) {
	if rand.Float64() > settings.CleanupProbability {
		return
	}

	ttl, err := time.ParseDuration(settings.EntryTTL)
	if err != nil {
		ttl = 30 * 24 * time.Hour
	}

	go func() {
		if _, err := store.CleanupOldEntries(ttl); err != nil {
			logger.Debug().Err(err).Msg("Failed to cleanup old entries")
		}
		if settings.MaxEntries > 0 {
			if _, err := store.CleanupExcessEntries(settings.MaxEntries); err != nil {
				logger.Debug().Err(err).Msg("Failed to cleanup excess entries")
			}
		}
	}()
}
