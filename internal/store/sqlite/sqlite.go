// Package sqlite is a storage.Store backed by SQLite, suitable for a
// single-process relay deployment. It keeps the event table and a
// tombstone table for NIP-09 deletions and trades the in-memory store's
// simplicity for on-disk durability.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/storage"
)

// Options holds database configuration options.
type Options struct {
	// MaxOpenConns is the maximum number of open connections to the database.
	// If MaxOpenConns is 0 or negative, there is no limit.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections to the database.
	// If MaxIdleConns is negative, no idle connections are retained.
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum duration of time that a database
	// connection may be reused.
	// If ConnMaxLifetime is 0, connections are reused forever.
	ConnMaxLifetime time.Duration

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// Recommended for production use.
	EnableWAL bool

	// CacheSize sets SQLite's cache_size pragma. Positive values are a
	// number of pages; negative values are a size in KiB
	// (e.g., -2000 = 2MB cache). Zero leaves SQLite's default in place.
	CacheSize int

	// BusyTimeout sets the busy timeout in milliseconds.
	// Default is 5000ms (5 seconds).
	BusyTimeout time.Duration
}

// DefaultOptions returns default database options.
func DefaultOptions() *Options {
	return &Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		EnableWAL:       true,
		CacheSize:       -2000, // 2MB cache
		BusyTimeout:     5 * time.Second,
	}
}

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store with default options.
func New(dbPath string) (*Store, error) {
	return NewWithOptions(dbPath, DefaultOptions())
}

// NewWithOptions creates a new SQLite store with custom options.
func NewWithOptions(dbPath string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	if err := store.configurePerformance(opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure performance: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) configurePerformance(opts *Options) error {
	if opts.EnableWAL {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if opts.CacheSize != 0 {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA cache_size=%d;", opts.CacheSize)); err != nil {
			return fmt.Errorf("failed to set cache size: %w", err)
		}
	}
	if opts.BusyTimeout > 0 {
		timeoutMs := int(opts.BusyTimeout.Milliseconds())
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", timeoutMs)); err != nil {
			return fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA temp_store=MEMORY;"); err != nil {
		return fmt.Errorf("failed to set temp store: %w", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return s.runMigrations()
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			pubkey TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			tags TEXT,
			content TEXT NOT NULL,
			sig TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
		CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
		CREATE INDEX IF NOT EXISTS idx_events_kind_created_at ON events(kind, created_at);
		`,
	},
	{
		version: 2,
		sql: `
		CREATE TABLE IF NOT EXISTS deleted_events (
			id TEXT PRIMARY KEY,
			deleter_pubkey TEXT NOT NULL,
			deleted_at INTEGER NOT NULL
		);
		`,
	},
}

func (s *Store) runMigrations() error {
	for _, m := range migrations {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.version, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SaveEvent applies the replace-on-kind table and the NIP-09 pre-insert
// deletion rule inside one transaction, then appends evt regardless of
// its kind (spec.md §4.5).
func (s *Store) SaveEvent(ctx context.Context, evt *event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var alreadyDeleted bool
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM deleted_events WHERE id = ?", evt.ID).Scan(&alreadyDeleted)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check deletion status: %w", err)
	}
	if alreadyDeleted {
		return fmt.Errorf("event has been deleted")
	}

	switch {
	case evt.IsReplaceable():
		rows, err := tx.QueryContext(ctx, "SELECT id FROM events WHERE pubkey = ? AND kind = ? AND id != ?", evt.PubKey, evt.Kind, evt.ID)
		if err != nil {
			return fmt.Errorf("failed to find replaceable predecessors: %w", err)
		}
		var priorIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan predecessor id: %w", err)
			}
			priorIDs = append(priorIDs, id)
		}
		rows.Close()
		for _, id := range priorIDs {
			if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id); err != nil {
				return fmt.Errorf("failed to replace predecessor %s: %w", id, err)
			}
		}
	case evt.IsDeletion():
		for _, targetID := range evt.DeletedEventIDs() {
			var author string
			err := tx.QueryRowContext(ctx, "SELECT pubkey FROM events WHERE id = ?", targetID).Scan(&author)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to look up deletion target %s: %w", targetID, err)
			}
			if author != evt.PubKey {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO deleted_events (id, deleter_pubkey, deleted_at) VALUES (?, ?, ?)",
				targetID, evt.PubKey, evt.CreatedAt); err != nil {
				return fmt.Errorf("failed to tombstone %s: %w", targetID, err)
			}
		}
	}

	tagsJSON, err := tagsToJSON(evt.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (id, pubkey, created_at, kind, tags, content, sig)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.ID, evt.PubKey, evt.CreatedAt, evt.Kind, tagsJSON, evt.Content, evt.Sig); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	return tx.Commit()
}

// QueryEvents implements the C5 range query (OR across filters, AND
// within one), ordered most-recent-first with ascending id on ties,
// capped at the lesser of the first filter's Limit and
// storage.DefaultQueryLimit (later filters' Limit is not consulted).
func (s *Store) QueryEvents(ctx context.Context, filters []*event.Filter) ([]*event.Event, error) {
	var results []*event.Event
	seen := make(map[string]bool)

	for _, filter := range filters {
		events, err := s.queryFilter(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to query filter: %w", err)
		}
		for _, evt := range events {
			if !seen[evt.ID] {
				results = append(results, evt)
				seen[evt.ID] = true
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt != results[j].CreatedAt {
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].ID < results[j].ID
	})

	limit := storage.DefaultQueryLimit
	if len(filters) > 0 && filters[0].Limit != nil && *filters[0].Limit < limit {
		limit = *filters[0].Limit
	}
	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func (s *Store) queryFilter(ctx context.Context, filter *event.Filter) ([]*event.Event, error) {
	conditions, args := whereClause(filter, true)

	query := "SELECT id, pubkey, created_at, kind, tags, content, sig FROM events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	events := make([]*event.Event, 0)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if matchesTags(evt, filter) {
			events = append(events, evt)
		}
	}
	return events, rows.Err()
}

// whereClause builds the SQL conditions shared by queryFilter and
// countFilter. Tag ("#e"/"#p") conditions are applied in Go after the
// scan, since they need exact-match semantics over a JSON column.
func whereClause(filter *event.Filter, excludeDeleted bool) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	if len(filter.IDs) > 0 {
		var likeClauses []string
		for _, id := range filter.IDs {
			likeClauses = append(likeClauses, "id LIKE ?")
			args = append(args, id+"%")
		}
		conditions = append(conditions, "("+strings.Join(likeClauses, " OR ")+")")
	}
	if len(filter.Authors) > 0 {
		var likeClauses []string
		for _, author := range filter.Authors {
			likeClauses = append(likeClauses, "pubkey LIKE ?")
			args = append(args, author+"%")
		}
		conditions = append(conditions, "("+strings.Join(likeClauses, " OR ")+")")
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, kind)
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.Since != nil {
		conditions = append(conditions, "created_at > ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, *filter.Until)
	}
	if excludeDeleted {
		conditions = append(conditions, "id NOT IN (SELECT id FROM deleted_events)")
	}

	return conditions, args
}

func matchesTags(evt *event.Event, filter *event.Filter) bool {
	if len(filter.Tags) == 0 {
		return true
	}
	for tagName, values := range filter.Tags {
		matched := false
		for _, v := range evt.GetTagValues(tagName) {
			for _, want := range values {
				if v == want {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func scanEvent(rows *sql.Rows) (*event.Event, error) {
	evt := &event.Event{Tags: [][]string{}}
	var tagsJSON sql.NullString

	if err := rows.Scan(&evt.ID, &evt.PubKey, &evt.CreatedAt, &evt.Kind, &tagsJSON, &evt.Content, &evt.Sig); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	if tagsJSON.Valid && tagsJSON.String != "" {
		tags, err := jsonToTags(tagsJSON.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
		evt.Tags = tags
	}

	return evt, nil
}

// CountEvents mirrors QueryEvents but only returns a count, unbounded
// by the backfill limit.
func (s *Store) CountEvents(ctx context.Context, filters []*event.Filter) (int, error) {
	seen := make(map[string]bool)
	var total int

	for _, filter := range filters {
		conditions, args := whereClause(filter, true)
		query := "SELECT id, tags FROM events"
		if len(conditions) > 0 {
			query += " WHERE " + strings.Join(conditions, " AND ")
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to execute count query: %w", err)
		}

		for rows.Next() {
			var id string
			var tagsJSON sql.NullString
			if err := rows.Scan(&id, &tagsJSON); err != nil {
				rows.Close()
				return 0, fmt.Errorf("failed to scan count row: %w", err)
			}
			if seen[id] {
				continue
			}
			if len(filter.Tags) > 0 {
				tags, err := jsonToTags(tagsJSON.String)
				if err != nil {
					rows.Close()
					return 0, fmt.Errorf("failed to decode tags: %w", err)
				}
				evt := &event.Event{Tags: tags}
				if !matchesTags(evt, filter) {
					continue
				}
			}
			seen[id] = true
			total++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return 0, err
		}
		rows.Close()
	}

	return total, nil
}

// DeleteEvent marks eventID as deleted if its stored author matches
// deleterPubKey (NIP-09 deletion authority).
func (s *Store) DeleteEvent(ctx context.Context, eventID string, deleterPubKey string) error {
	var author string
	err := s.db.QueryRowContext(ctx, "SELECT pubkey FROM events WHERE id = ?", eventID).Scan(&author)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to check event: %w", err)
	}

	if author != deleterPubKey {
		return fmt.Errorf("unauthorized: only event author can delete")
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO deleted_events (id, deleter_pubkey, deleted_at) VALUES (?, ?, ?)",
		eventID, deleterPubKey, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to mark event as deleted: %w", err)
	}
	return nil
}

// GetEvent retrieves a single event by id, returning storage.ErrNotFound
// both when the id is unknown and when it has been deleted.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*event.Event, error) {
	var deleted bool
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM deleted_events WHERE id = ?", eventID).Scan(&deleted)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check deletion status: %w", err)
	}
	if deleted {
		return nil, storage.ErrNotFound
	}

	evt := &event.Event{Tags: [][]string{}}
	var tagsJSON sql.NullString

	err = s.db.QueryRowContext(ctx,
		"SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE id = ?",
		eventID).Scan(&evt.ID, &evt.PubKey, &evt.CreatedAt, &evt.Kind, &tagsJSON, &evt.Content, &evt.Sig)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	if tagsJSON.Valid && tagsJSON.String != "" {
		tags, err := jsonToTags(tagsJSON.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
		evt.Tags = tags
	}

	return evt, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DeleteEventsOlderThan deletes all events older than the given age, for
// relays that enforce a retention policy.
func (s *Store) DeleteEventsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Unix()
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}

// PruneDeletedEvents removes old tombstones to keep deleted_events small.
func (s *Store) PruneDeletedEvents(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Unix()
	result, err := s.db.ExecContext(ctx, "DELETE FROM deleted_events WHERE deleted_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune deleted events: %w", err)
	}
	return result.RowsAffected()
}

// Vacuum runs SQLite's VACUUM to reclaim unused space. Intended for
// low-traffic maintenance windows.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	if err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

// Stats reports database counters for monitoring.
type Stats struct {
	EventCount        int64
	DeletedEventCount int64
	DatabaseSizeKB    int64
}

// GetStats returns current database statistics.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&stats.EventCount); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deleted_events").Scan(&stats.DeletedEventCount); err != nil {
		return nil, fmt.Errorf("failed to count deleted events: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DatabaseSizeKB = (pageCount * pageSize) / 1024
		}
	}

	return stats, nil
}

func tagsToJSON(tags [][]string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func jsonToTags(jsonStr string) ([][]string, error) {
	if jsonStr == "" || jsonStr == "[]" {
		return [][]string{}, nil
	}
	var tags [][]string
	if err := json.Unmarshal([]byte(jsonStr), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
