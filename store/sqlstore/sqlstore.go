// Package sqlstore is the relational backend, on SQLite. Events live in one
// table with secondary indexes on pubkey, kind and created_at; tags live in a
// separate table with a composite (tag_name, tag_value) index so tag filters
// stay sub-linear.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/offlinehq/nostrcache"
	"github.com/offlinehq/nostrcache/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ store.Store = (*Backend)(nil)

type Backend struct {
	// Path is the database file. ":memory:" works for tests.
	Path string

	Logger *zerolog.Logger

	db  *sql.DB
	log zerolog.Logger

	// writeMu enforces the single-writer discipline: one write transaction
	// at a time, reads stay concurrent
	writeMu sync.Mutex

	eventCount atomic.Int64
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
			tags TEXT NOT NULL,
			content TEXT NOT NULL,
			sig TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
		CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
		`,
	},
	{
		version: 2,
		sql: `
		CREATE TABLE IF NOT EXISTS event_tags (
			event_id TEXT NOT NULL,
			tag_name TEXT NOT NULL,
			tag_value TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (event_id, position)
		);
		CREATE INDEX IF NOT EXISTS idx_event_tags_name_value ON event_tags(tag_name, tag_value);
		`,
	},
}

func (b *Backend) Init(ctx context.Context) error {
	if b.Logger != nil {
		b.log = *b.Logger
	} else {
		b.log = zerolog.Nop()
	}

	if b.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", b.Path)
	if err != nil {
		return &store.InitError{Backend: "sqlite", Err: err}
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return &store.InitError{Backend: "sqlite", Err: err}
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return &store.InitError{Backend: "sqlite", Err: err}
	}

	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		db.Close()
		return &store.InitError{Backend: "sqlite", Err: err}
	}

	b.db = db
	b.eventCount.Store(count)
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
		if _, err := db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}

	return nil
}

func (b *Backend) Close() {
	if b.db != nil {
		b.db.Close()
	}
}

// SaveEvents runs the whole batch in one transaction. A row that fails is
// skipped and logged; the transaction still commits for the rest.
func (b *Backend) SaveEvents(ctx context.Context, events []nostrcache.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertEvent, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events (id, pubkey, created_at, kind, tags, content, sig)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer insertEvent.Close()

	insertTag, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO event_tags (event_id, tag_name, tag_value, position)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer insertTag.Close()

	saved := 0
	for _, evt := range events {
		tagsJSON, err := marshalTags(evt.Tags)
		if err != nil {
			b.log.Warn().Str("id", evt.ID).Err(err).Msg("skipping unencodable event")
			continue
		}

		res, err := insertEvent.ExecContext(ctx,
			evt.ID, evt.PubKey, int64(evt.CreatedAt), int(evt.Kind), tagsJSON, evt.Content, evt.Sig)
		if err != nil {
			b.log.Warn().Str("id", evt.ID).Err(err).Msg("skipping failed row")
			continue
		}

		affected, _ := res.RowsAffected()
		if affected == 0 {
			// already present: a no-op, not a failure
			continue
		}

		for pos, tag := range evt.Tags {
			if len(tag) < 2 {
				continue
			}
			if _, err := insertTag.ExecContext(ctx, evt.ID, tag[0], tag[1], pos); err != nil {
				b.log.Warn().Str("id", evt.ID).Err(err).Msg("failed to index tag")
			}
		}

		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.eventCount.Add(int64(saved))
	return saved, nil
}

func (b *Backend) QueryEvents(ctx context.Context, filters nostrcache.Filters) ([]nostrcache.Event, error) {
	if len(filters) == 0 {
		// the empty group means everything
		filters = nostrcache.Filters{{}}
	}

	// The limit is resolved at group level and applied after the merge, so
	// each per-filter query may only be cut at that same group limit: any row
	// beyond a filter's top groupLimit can never reach the final result.
	groupLimit := store.GroupLimit(filters)

	var results []nostrcache.Event
	for _, filter := range filters {
		events, err := b.queryFilter(ctx, filter, groupLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to query filter %s: %w", filter, err)
		}
		results = append(results, events...)
	}

	return store.Finalize(results, filters), nil
}

func (b *Backend) queryFilter(ctx context.Context, filter nostrcache.Filter, limit int) ([]nostrcache.Event, error) {
	var conditions []string
	var args []any

	if filter.IDs != nil {
		conditions = append(conditions, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	if filter.Authors != nil {
		conditions = append(conditions, "pubkey IN ("+placeholders(len(filter.Authors))+")")
		for _, author := range filter.Authors {
			args = append(args, author)
		}
	}

	if filter.Kinds != nil {
		conditions = append(conditions, "kind IN ("+placeholders(len(filter.Kinds))+")")
		for _, kind := range filter.Kinds {
			args = append(args, int(kind))
		}
	}

	if filter.Since != 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, int64(filter.Since))
	}

	if filter.Until != 0 {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, int64(filter.Until))
	}

	for name, values := range filter.Tags {
		if values == nil {
			continue
		}
		if len(values) == 0 {
			// a present-but-empty value set accepts nothing, same as the
			// in-memory evaluator
			conditions = append(conditions, "1=0")
			continue
		}
		conditions = append(conditions,
			"EXISTS (SELECT 1 FROM event_tags t WHERE t.event_id = events.id AND t.tag_name = ? AND t.tag_value IN ("+
				placeholders(len(values))+"))")
		args = append(args, name)
		for _, value := range values {
			args = append(args, value)
		}
	}

	query := "SELECT id, pubkey, created_at, kind, tags, content, sig FROM events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []nostrcache.Event
	for rows.Next() {
		var evt nostrcache.Event
		var createdAt int64
		var kind int
		var tagsJSON string

		if err := rows.Scan(&evt.ID, &evt.PubKey, &createdAt, &kind, &tagsJSON, &evt.Content, &evt.Sig); err != nil {
			return nil, err
		}
		evt.CreatedAt = nostrcache.Timestamp(createdAt)
		evt.Kind = nostrcache.Kind(kind)

		tags, err := unmarshalTags(tagsJSON)
		if err != nil {
			// a corrupted row doesn't fail the whole query
			b.log.Warn().Str("id", evt.ID).Err(err).Msg("dropping row with corrupt tags")
			continue
		}
		evt.Tags = tags

		events = append(events, evt)
	}

	return events, rows.Err()
}

func (b *Backend) DeleteEvents(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM events WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM event_tags WHERE event_id IN ("+placeholders(len(ids))+")", args...); err != nil {
		return 0, fmt.Errorf("failed to delete tags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	removed, _ := res.RowsAffected()
	b.eventCount.Add(-removed)
	return int(removed), nil
}

func (b *Backend) Clear(ctx context.Context) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if _, err := b.db.ExecContext(ctx, "DELETE FROM events"); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM event_tags"); err != nil {
		return fmt.Errorf("failed to clear tags: %w", err)
	}

	b.eventCount.Store(0)
	return nil
}

func (b *Backend) Stats(ctx context.Context) (store.Stats, error) {
	st := store.Stats{EventCount: b.eventCount.Load()}

	var pageCount, pageSize int64
	if err := b.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return st, err
	}
	if err := b.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return st, err
	}
	st.ApproxSizeBytes = pageCount * pageSize

	if st.EventCount > 0 {
		var oldest, newest sql.NullInt64
		if err := b.db.QueryRowContext(ctx,
			"SELECT MIN(created_at), MAX(created_at) FROM events").Scan(&oldest, &newest); err != nil {
			return st, err
		}
		st.Oldest = nostrcache.Timestamp(oldest.Int64)
		st.Newest = nostrcache.Timestamp(newest.Int64)
	}

	return st, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func marshalTags(tags nostrcache.Tags) (string, error) {
	if tags == nil {
		tags = nostrcache.Tags{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalTags(raw string) (nostrcache.Tags, error) {
	var tags nostrcache.Tags
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
