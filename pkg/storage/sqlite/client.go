// Package sqlite provides the SQLite implementation of the engine's record
// stores.
//
// SQLite is the lightweight, file-based default backend, suitable for local
// development and single-node deployments. Vectors and structured fields are
// stored as JSON strings in TEXT columns; similarity math happens in the
// engine, not in SQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/storage"
)

// defaultPageSize bounds list queries that pass no explicit limit. Sweeps
// and clustering must never scan unbounded.
const defaultPageSize = 200

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file. Use ":memory:" for
	// an in-process ephemeral store (tests).
	DBPath string
}

// NewClient opens (and if necessary creates) the SQLite database and
// initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// Every pooled connection to :memory: would get its own empty
		// database; a single connection keeps the schema visible.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{db: db}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// initTables initializes the database schema.
func (c *Client) initTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS short_term (
			id INTEGER PRIMARY KEY,
			owner_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			payload TEXT,
			context TEXT,
			importance TEXT NOT NULL,
			confidence REAL NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 1,
			last_accessed_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			should_consolidate INTEGER NOT NULL DEFAULT 0,
			source TEXT,
			UNIQUE(owner_id, session_id, type, content)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_short_term_owner ON short_term(owner_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_short_term_expiry ON short_term(expires_at)`,
		`CREATE TABLE IF NOT EXISTS long_term (
			id INTEGER PRIMARY KEY,
			owner_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			summary TEXT,
			keywords TEXT,
			context TEXT,
			embedding TEXT,
			importance TEXT NOT NULL,
			strength REAL NOT NULL,
			weak INTEGER NOT NULL DEFAULT 0,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_long_term_owner ON long_term(owner_id, type)`,
		`CREATE TABLE IF NOT EXISTS associations (
			id INTEGER PRIMARY KEY,
			owner_id TEXT NOT NULL,
			from_id INTEGER NOT NULL,
			to_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			strength REAL NOT NULL,
			confidence REAL NOT NULL,
			created_at DATETIME NOT NULL,
			last_reinforced_at DATETIME NOT NULL,
			last_decayed_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_owner ON associations(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_from ON associations(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_to ON associations(to_id)`,
		`CREATE TABLE IF NOT EXISTS sharing (
			id INTEGER PRIMARY KEY,
			memory_id INTEGER NOT NULL,
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			access_level TEXT NOT NULL,
			reason TEXT,
			shared_at DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sharing_to ON sharing(to_agent, is_active)`,
		`CREATE TABLE IF NOT EXISTS access_requests (
			id INTEGER PRIMARY KEY,
			memory_id INTEGER NOT NULL,
			requesting_agent TEXT NOT NULL,
			owner_agent TEXT NOT NULL,
			reason TEXT,
			requested_level TEXT NOT NULL,
			status TEXT NOT NULL,
			requested_at DATETIME NOT NULL,
			decided_at DATETIME,
			decided_by TEXT,
			decision_note TEXT,
			auto_approved INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS pools (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			participants TEXT NOT NULL,
			allowed_types TEXT NOT NULL,
			policy TEXT NOT NULL,
			curator TEXT,
			contributions TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pool_entries (
			id INTEGER PRIMARY KEY,
			pool_id INTEGER NOT NULL,
			memory_id INTEGER NOT NULL,
			contributor TEXT NOT NULL,
			status TEXT NOT NULL,
			added_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pool_entries_pool ON pool_entries(pool_id, status)`,
		`CREATE TABLE IF NOT EXISTS consolidation_jobs (
			id INTEGER PRIMARY KEY,
			owner_id TEXT NOT NULL,
			memory_ids TEXT NOT NULL,
			status TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			consolidated INTEGER NOT NULL DEFAULT 0,
			errored INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS sync_sessions (
			id INTEGER PRIMARY KEY,
			agent_a TEXT NOT NULL,
			agent_b TEXT NOT NULL,
			sync_type TEXT NOT NULL,
			status TEXT NOT NULL,
			shared INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			errored INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			owner_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			last_touched_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (owner_id, session_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// ---- short-term store ----

// UpsertShortTerm applies the merge-write semantics inside one transaction.
func (c *Client) UpsertShortTerm(ctx context.Context, entry *memory.ShortTermMemory) (int64, bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("UpsertShortTerm: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	var existingConfidence float64
	err = tx.QueryRowContext(ctx,
		`SELECT id, confidence FROM short_term
		 WHERE owner_id = ? AND session_id = ? AND type = ? AND content = ?`,
		entry.OwnerID, entry.SessionID, string(entry.Type), entry.Content,
	).Scan(&existingID, &existingConfidence)

	switch {
	case err == sql.ErrNoRows:
		payloadJSON, err := marshalJSON(entry.Payload)
		if err != nil {
			return 0, false, fmt.Errorf("UpsertShortTerm: %w", err)
		}
		contextJSON, err := marshalJSON(entry.Context)
		if err != nil {
			return 0, false, fmt.Errorf("UpsertShortTerm: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO short_term
			 (id, owner_id, session_id, type, content, payload, context, importance,
			  confidence, access_count, last_accessed_at, created_at, expires_at,
			  should_consolidate, source)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.OwnerID, entry.SessionID, string(entry.Type), entry.Content,
			payloadJSON, contextJSON, string(entry.Importance),
			entry.Confidence, entry.AccessCount, entry.LastAccessedAt, entry.CreatedAt,
			entry.ExpiresAt, boolToInt(entry.ShouldConsolidate), entry.Source,
		)
		if err != nil {
			return 0, false, fmt.Errorf("UpsertShortTerm: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("UpsertShortTerm: %w", err)
		}
		return entry.ID, false, nil

	case err != nil:
		return 0, false, fmt.Errorf("UpsertShortTerm: %w", err)
	}

	confidence := entry.Confidence
	if existingConfidence > confidence {
		confidence = existingConfidence
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE short_term
		 SET access_count = access_count + 1,
		     last_accessed_at = ?,
		     confidence = ?,
		     importance = ?,
		     expires_at = ?,
		     should_consolidate = ?
		 WHERE id = ?`,
		entry.LastAccessedAt, confidence, string(entry.Importance),
		entry.ExpiresAt, boolToInt(entry.ShouldConsolidate), existingID,
	)
	if err != nil {
		return 0, false, fmt.Errorf("UpsertShortTerm: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("UpsertShortTerm: %w", err)
	}
	return existingID, true, nil
}

const shortTermColumns = `id, owner_id, session_id, type, content, payload, context,
	importance, confidence, access_count, last_accessed_at, created_at, expires_at,
	should_consolidate, source`

// GetShortTerm retrieves one short-term memory by id.
func (c *Client) GetShortTerm(ctx context.Context, id int64) (*memory.ShortTermMemory, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+shortTermColumns+` FROM short_term WHERE id = ?`, id)
	entry, err := scanShortTerm(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetShortTerm: %w", err)
	}
	return entry, nil
}

// ListShortTerm retrieves short-term memories matching the query, newest
// first.
func (c *Client) ListShortTerm(ctx context.Context, q *storage.ShortTermQuery) ([]*memory.ShortTermMemory, error) {
	if q == nil {
		q = &storage.ShortTermQuery{}
	}

	var conds []string
	var args []interface{}
	if q.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.FlaggedOnly {
		conds = append(conds, "should_consolidate = 1")
	}
	if q.ActiveSessionsOnly {
		conds = append(conds, `NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.owner_id = short_term.owner_id
			  AND s.session_id = short_term.session_id
			  AND s.status = 'archived')`)
	}

	query := `SELECT ` + shortTermColumns + ` FROM short_term`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, pageLimit(q.Limit), q.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListShortTerm: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*memory.ShortTermMemory
	for rows.Next() {
		entry, err := scanShortTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("ListShortTerm: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// BumpShortTermAccess increments access counts, best effort.
func (c *Client) BumpShortTermAccess(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE short_term SET access_count = access_count + 1, last_accessed_at = ?
		 WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]interface{}{now}, idArgs(ids)...)
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("BumpShortTermAccess: %w", err)
	}
	return nil
}

// ClearConsolidationFlags unmarks processed entries.
func (c *Client) ClearConsolidationFlags(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE short_term SET should_consolidate = 0 WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := c.db.ExecContext(ctx, query, idArgs(ids)...); err != nil {
		return fmt.Errorf("ClearConsolidationFlags: %w", err)
	}
	return nil
}

// DeleteExpiredShortTerm deletes every record whose expiry has passed.
func (c *Client) DeleteExpiredShortTerm(ctx context.Context, now time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM short_term WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("DeleteExpiredShortTerm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteExpiredShortTerm: %w", err)
	}
	return int(n), nil
}

// DeleteShortTerm deletes the given records by id.
func (c *Client) DeleteShortTerm(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM short_term WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := c.db.ExecContext(ctx, query, idArgs(ids)...); err != nil {
		return fmt.Errorf("DeleteShortTerm: %w", err)
	}
	return nil
}

// ListShortTermOwners pages over distinct owners.
func (c *Client) ListShortTermOwners(ctx context.Context, limit, offset int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM short_term ORDER BY owner_id LIMIT ? OFFSET ?`,
		pageLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("ListShortTermOwners: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

// ---- long-term store ----

const longTermColumns = `id, owner_id, type, content, summary, keywords, context, embedding,
	importance, strength, weak, access_count, created_at, updated_at`

// InsertLongTerm inserts a long-term memory.
func (c *Client) InsertLongTerm(ctx context.Context, entry *memory.LongTermMemory) error {
	keywordsJSON, err := marshalJSON(entry.Keywords)
	if err != nil {
		return fmt.Errorf("InsertLongTerm: %w", err)
	}
	contextJSON, err := marshalJSON(entry.Context)
	if err != nil {
		return fmt.Errorf("InsertLongTerm: %w", err)
	}
	embeddingJSON, err := marshalJSON(entry.Embedding)
	if err != nil {
		return fmt.Errorf("InsertLongTerm: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO long_term
		 (id, owner_id, type, content, summary, keywords, context, embedding, importance,
		  strength, weak, access_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OwnerID, string(entry.Type), entry.Content, entry.Summary,
		keywordsJSON, contextJSON, embeddingJSON, string(entry.Importance),
		entry.Strength, boolToInt(entry.Weak), entry.AccessCount,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("InsertLongTerm: %w", err)
	}
	return nil
}

// GetLongTerm retrieves one long-term memory by id.
func (c *Client) GetLongTerm(ctx context.Context, id int64) (*memory.LongTermMemory, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+longTermColumns+` FROM long_term WHERE id = ?`, id)
	entry, err := scanLongTerm(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetLongTerm: %w", err)
	}
	return entry, nil
}

// ListLongTerm retrieves long-term memories matching the query, newest
// first.
func (c *Client) ListLongTerm(ctx context.Context, q *storage.LongTermQuery) ([]*memory.LongTermMemory, error) {
	if q == nil {
		q = &storage.LongTermQuery{}
	}

	var conds []string
	var args []interface{}
	if q.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(q.Type))
	}
	if len(q.Types) > 0 {
		conds = append(conds, "type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if !q.CreatedAfter.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, q.CreatedAfter)
	}
	if q.WeakOnly {
		conds = append(conds, "weak = 1")
	}
	if q.MissingEmbedding {
		conds = append(conds, "(embedding IS NULL OR embedding = '' OR embedding = 'null')")
	}

	query := `SELECT ` + longTermColumns + ` FROM long_term`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, pageLimit(q.Limit), q.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListLongTerm: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*memory.LongTermMemory
	for rows.Next() {
		entry, err := scanLongTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("ListLongTerm: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateLongTermEmbedding stores a lazily computed embedding.
func (c *Client) UpdateLongTermEmbedding(ctx context.Context, id int64, embedding []float64) error {
	embeddingJSON, err := marshalJSON(embedding)
	if err != nil {
		return fmt.Errorf("UpdateLongTermEmbedding: %w", err)
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE long_term SET embedding = ?, updated_at = ? WHERE id = ?`,
		embeddingJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("UpdateLongTermEmbedding: %w", err)
	}
	return requireAffected(res, memory.ErrNotFound)
}

// UpdateLongTermStrength writes a decayed strength and weak flag.
func (c *Client) UpdateLongTermStrength(ctx context.Context, id int64, strength float64, weak bool) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE long_term SET strength = ?, weak = ?, updated_at = ? WHERE id = ?`,
		strength, boolToInt(weak), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("UpdateLongTermStrength: %w", err)
	}
	return requireAffected(res, memory.ErrNotFound)
}

// BumpLongTermAccess increments access counts, best effort.
func (c *Client) BumpLongTermAccess(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE long_term SET access_count = access_count + 1, updated_at = ?
		 WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]interface{}{now}, idArgs(ids)...)
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("BumpLongTermAccess: %w", err)
	}
	return nil
}

// DeleteWeakLongTerm bulk-removes the owner's weak-flagged entries.
func (c *Client) DeleteWeakLongTerm(ctx context.Context, ownerID string) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM long_term WHERE owner_id = ? AND weak = 1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("DeleteWeakLongTerm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteWeakLongTerm: %w", err)
	}
	return int(n), nil
}

// ListLongTermOwners pages over distinct owners.
func (c *Client) ListLongTermOwners(ctx context.Context, limit, offset int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM long_term ORDER BY owner_id LIMIT ? OFFSET ?`,
		pageLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("ListLongTermOwners: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

// ---- association store ----

const associationColumns = `id, owner_id, from_id, to_id, type, strength, confidence,
	created_at, last_reinforced_at, last_decayed_at`

// UpsertAssociation creates or reinforces an edge between a pair.
func (c *Client) UpsertAssociation(ctx context.Context, assoc *memory.MemoryAssociation) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("UpsertAssociation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	var existingStrength float64
	err = tx.QueryRowContext(ctx,
		`SELECT id, strength FROM associations
		 WHERE (from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)`,
		assoc.FromID, assoc.ToID, assoc.ToID, assoc.FromID,
	).Scan(&existingID, &existingStrength)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO associations
			 (id, owner_id, from_id, to_id, type, strength, confidence,
			  created_at, last_reinforced_at, last_decayed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			assoc.ID, assoc.OwnerID, assoc.FromID, assoc.ToID, string(assoc.Type),
			assoc.Strength, assoc.Confidence,
			assoc.CreatedAt, assoc.LastReinforcedAt, assoc.LastDecayedAt,
		)
		if err != nil {
			return fmt.Errorf("UpsertAssociation: %w", err)
		}

	case err != nil:
		return fmt.Errorf("UpsertAssociation: %w", err)

	default:
		strength := assoc.Strength
		if existingStrength > strength {
			strength = existingStrength
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE associations
			 SET strength = ?, confidence = ?, last_reinforced_at = ?, last_decayed_at = ?
			 WHERE id = ?`,
			strength, assoc.Confidence, assoc.LastReinforcedAt, assoc.LastReinforcedAt, existingID,
		)
		if err != nil {
			return fmt.Errorf("UpsertAssociation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("UpsertAssociation: %w", err)
	}
	return nil
}

// ListAssociationsFor returns the edges touching a memory, strongest first.
func (c *Client) ListAssociationsFor(ctx context.Context, memoryID int64, limit int) ([]*memory.MemoryAssociation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+associationColumns+` FROM associations
		 WHERE from_id = ? OR to_id = ?
		 ORDER BY strength DESC LIMIT ?`,
		memoryID, memoryID, pageLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("ListAssociationsFor: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAssociations(rows)
}

// ListAssociations pages over one owner's edges.
func (c *Client) ListAssociations(ctx context.Context, ownerID string, limit, offset int) ([]*memory.MemoryAssociation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+associationColumns+` FROM associations
		 WHERE owner_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		ownerID, pageLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("ListAssociations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAssociations(rows)
}

// UpdateAssociationDecay writes a decayed strength and advances the decay
// watermark.
func (c *Client) UpdateAssociationDecay(ctx context.Context, id int64, strength float64, decayedAt time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE associations SET strength = ?, last_decayed_at = ? WHERE id = ?`,
		strength, decayedAt, id)
	if err != nil {
		return fmt.Errorf("UpdateAssociationDecay: %w", err)
	}
	return requireAffected(res, memory.ErrNotFound)
}

// DeleteAssociation deletes one edge.
func (c *Client) DeleteAssociation(ctx context.Context, id int64) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM associations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("DeleteAssociation: %w", err)
	}
	return nil
}

// DeleteOrphanAssociations removes edges with a missing endpoint.
func (c *Client) DeleteOrphanAssociations(ctx context.Context, ownerID string) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM associations
		 WHERE owner_id = ?
		   AND (NOT EXISTS (SELECT 1 FROM long_term WHERE long_term.id = associations.from_id)
		     OR NOT EXISTS (SELECT 1 FROM long_term WHERE long_term.id = associations.to_id))`,
		ownerID)
	if err != nil {
		return 0, fmt.Errorf("DeleteOrphanAssociations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteOrphanAssociations: %w", err)
	}
	return int(n), nil
}

// ---- sharing store ----

// InsertSharing inserts a sharing record.
func (c *Client) InsertSharing(ctx context.Context, rec *memory.SharingRecord) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sharing
		 (id, memory_id, from_agent, to_agent, access_level, reason, shared_at, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MemoryID, rec.FromAgentType, rec.ToAgentType,
		string(rec.AccessLevel), rec.Reason, rec.SharedAt, boolToInt(rec.IsActive))
	if err != nil {
		return fmt.Errorf("InsertSharing: %w", err)
	}
	return nil
}

// ListSharing retrieves sharing records matching the query, newest first.
func (c *Client) ListSharing(ctx context.Context, q *storage.SharingQuery) ([]*memory.SharingRecord, error) {
	if q == nil {
		q = &storage.SharingQuery{}
	}

	var conds []string
	var args []interface{}
	if q.ToAgentType != "" {
		conds = append(conds, "to_agent = ?")
		args = append(args, q.ToAgentType)
	}
	if q.MemoryID != 0 {
		conds = append(conds, "memory_id = ?")
		args = append(args, q.MemoryID)
	}
	if q.ActiveOnly {
		conds = append(conds, "is_active = 1")
	}

	query := `SELECT id, memory_id, from_agent, to_agent, access_level, reason, shared_at, is_active
		 FROM sharing`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY shared_at DESC, id DESC LIMIT ?"
	args = append(args, pageLimit(q.Limit))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListSharing: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*memory.SharingRecord
	for rows.Next() {
		var rec memory.SharingRecord
		var level string
		var active int
		if err := rows.Scan(&rec.ID, &rec.MemoryID, &rec.FromAgentType, &rec.ToAgentType,
			&level, &rec.Reason, &rec.SharedAt, &active); err != nil {
			return nil, fmt.Errorf("ListSharing: %w", err)
		}
		rec.AccessLevel = memory.AccessLevel(level)
		rec.IsActive = active != 0
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// InsertAccessRequest inserts an access request.
func (c *Client) InsertAccessRequest(ctx context.Context, req *memory.AccessRequest) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO access_requests
		 (id, memory_id, requesting_agent, owner_agent, reason, requested_level,
		  status, requested_at, decided_at, decided_by, decision_note, auto_approved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.MemoryID, req.RequestingAgent, req.OwnerAgent, req.Reason,
		string(req.RequestedLevel), string(req.Status), req.RequestedAt,
		req.DecidedAt, req.DecidedBy, req.DecisionNote, boolToInt(req.AutoApproved))
	if err != nil {
		return fmt.Errorf("InsertAccessRequest: %w", err)
	}
	return nil
}

// GetAccessRequest retrieves one access request by id.
func (c *Client) GetAccessRequest(ctx context.Context, id int64) (*memory.AccessRequest, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, memory_id, requesting_agent, owner_agent, reason, requested_level,
		        status, requested_at, decided_at, decided_by, decision_note, auto_approved
		 FROM access_requests WHERE id = ?`, id)

	var req memory.AccessRequest
	var level, status string
	var decidedAt sql.NullTime
	var autoApproved int
	err := row.Scan(&req.ID, &req.MemoryID, &req.RequestingAgent, &req.OwnerAgent,
		&req.Reason, &level, &status, &req.RequestedAt,
		&decidedAt, &req.DecidedBy, &req.DecisionNote, &autoApproved)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccessRequest: %w", err)
	}
	req.RequestedLevel = memory.AccessLevel(level)
	req.Status = memory.RequestStatus(status)
	req.AutoApproved = autoApproved != 0
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}

// DecideAccessRequest transitions a pending request to its terminal state.
// The UPDATE is guarded on status so racing decisions cannot both apply.
func (c *Client) DecideAccessRequest(ctx context.Context, id int64, status memory.RequestStatus, decidedBy, note string, now time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE access_requests
		 SET status = ?, decided_at = ?, decided_by = ?, decision_note = ?
		 WHERE id = ? AND status = 'pending'`,
		string(status), now, decidedBy, note, id)
	if err != nil {
		return fmt.Errorf("DecideAccessRequest: %w", err)
	}
	return requireAffected(res, memory.ErrInvalidState)
}

// InsertPool inserts a memory pool.
func (c *Client) InsertPool(ctx context.Context, pool *memory.MemoryPool) error {
	participantsJSON, err := marshalJSON(pool.Participants)
	if err != nil {
		return fmt.Errorf("InsertPool: %w", err)
	}
	typesJSON, err := marshalJSON(pool.AllowedTypes)
	if err != nil {
		return fmt.Errorf("InsertPool: %w", err)
	}
	contributionsJSON, err := marshalJSON(pool.Contributions)
	if err != nil {
		return fmt.Errorf("InsertPool: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO pools
		 (id, name, participants, allowed_types, policy, curator, contributions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pool.ID, pool.Name, participantsJSON, typesJSON, string(pool.Policy),
		pool.Curator, contributionsJSON, pool.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertPool: %w", err)
	}
	return nil
}

// GetPool retrieves one pool by id.
func (c *Client) GetPool(ctx context.Context, id int64) (*memory.MemoryPool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, name, participants, allowed_types, policy, curator, contributions, created_at
		 FROM pools WHERE id = ?`, id)

	var pool memory.MemoryPool
	var participantsJSON, typesJSON, policy string
	var contributionsJSON sql.NullString
	err := row.Scan(&pool.ID, &pool.Name, &participantsJSON, &typesJSON,
		&policy, &pool.Curator, &contributionsJSON, &pool.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetPool: %w", err)
	}
	pool.Policy = memory.PoolPolicy(policy)
	if err := json.Unmarshal([]byte(participantsJSON), &pool.Participants); err != nil {
		return nil, fmt.Errorf("GetPool: parse participants: %w", err)
	}
	if err := json.Unmarshal([]byte(typesJSON), &pool.AllowedTypes); err != nil {
		return nil, fmt.Errorf("GetPool: parse allowed types: %w", err)
	}
	if contributionsJSON.Valid && contributionsJSON.String != "" && contributionsJSON.String != "null" {
		if err := json.Unmarshal([]byte(contributionsJSON.String), &pool.Contributions); err != nil {
			return nil, fmt.Errorf("GetPool: parse contributions: %w", err)
		}
	}
	return &pool, nil
}

// AddPoolContribution increments the pool's per-agent contribution counter.
func (c *Client) AddPoolContribution(ctx context.Context, poolID int64, contributor string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("AddPoolContribution: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var contributionsJSON sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT contributions FROM pools WHERE id = ?`, poolID).Scan(&contributionsJSON)
	if err == sql.ErrNoRows {
		return memory.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("AddPoolContribution: %w", err)
	}

	contributions := map[string]int{}
	if contributionsJSON.Valid && contributionsJSON.String != "" && contributionsJSON.String != "null" {
		if err := json.Unmarshal([]byte(contributionsJSON.String), &contributions); err != nil {
			return fmt.Errorf("AddPoolContribution: %w", err)
		}
	}
	contributions[contributor]++

	updated, err := marshalJSON(contributions)
	if err != nil {
		return fmt.Errorf("AddPoolContribution: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pools SET contributions = ? WHERE id = ?`, updated, poolID); err != nil {
		return fmt.Errorf("AddPoolContribution: %w", err)
	}
	return tx.Commit()
}

// InsertPoolEntry inserts a pool entry.
func (c *Client) InsertPoolEntry(ctx context.Context, entry *memory.MemoryPoolEntry) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO pool_entries (id, pool_id, memory_id, contributor, status, added_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.PoolID, entry.MemoryID, entry.Contributor,
		string(entry.Status), entry.AddedAt)
	if err != nil {
		return fmt.Errorf("InsertPoolEntry: %w", err)
	}
	return nil
}

// GetPoolEntry retrieves one pool entry by id.
func (c *Client) GetPoolEntry(ctx context.Context, id int64) (*memory.MemoryPoolEntry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, pool_id, memory_id, contributor, status, added_at
		 FROM pool_entries WHERE id = ?`, id)

	var entry memory.MemoryPoolEntry
	var status string
	err := row.Scan(&entry.ID, &entry.PoolID, &entry.MemoryID, &entry.Contributor,
		&status, &entry.AddedAt)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetPoolEntry: %w", err)
	}
	entry.Status = memory.PoolEntryStatus(status)
	return &entry, nil
}

// DecidePoolEntry transitions a pending pool entry, guarded on status.
func (c *Client) DecidePoolEntry(ctx context.Context, id int64, status memory.PoolEntryStatus) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE pool_entries SET status = ? WHERE id = ? AND status = 'pending'`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("DecidePoolEntry: %w", err)
	}
	return requireAffected(res, memory.ErrInvalidState)
}

// ListPoolEntries returns a pool's entries, optionally filtered by status.
func (c *Client) ListPoolEntries(ctx context.Context, poolID int64, status memory.PoolEntryStatus) ([]*memory.MemoryPoolEntry, error) {
	query := `SELECT id, pool_id, memory_id, contributor, status, added_at
		 FROM pool_entries WHERE pool_id = ?`
	args := []interface{}{poolID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY added_at DESC, id DESC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListPoolEntries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*memory.MemoryPoolEntry
	for rows.Next() {
		var entry memory.MemoryPoolEntry
		var s string
		if err := rows.Scan(&entry.ID, &entry.PoolID, &entry.MemoryID,
			&entry.Contributor, &s, &entry.AddedAt); err != nil {
			return nil, fmt.Errorf("ListPoolEntries: %w", err)
		}
		entry.Status = memory.PoolEntryStatus(s)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// ---- job store ----

// InsertConsolidationJob inserts a consolidation job.
func (c *Client) InsertConsolidationJob(ctx context.Context, job *memory.ConsolidationJob) error {
	idsJSON, err := marshalJSON(job.MemoryIDs)
	if err != nil {
		return fmt.Errorf("InsertConsolidationJob: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO consolidation_jobs
		 (id, owner_id, memory_ids, status, processed, consolidated, errored, error, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, idsJSON, string(job.Status),
		job.Processed, job.Consolidated, job.Errored, job.Error,
		job.CreatedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("InsertConsolidationJob: %w", err)
	}
	return nil
}

// GetConsolidationJob retrieves one job by id.
func (c *Client) GetConsolidationJob(ctx context.Context, id int64) (*memory.ConsolidationJob, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, owner_id, memory_ids, status, processed, consolidated, errored, error, created_at, finished_at
		 FROM consolidation_jobs WHERE id = ?`, id)

	var job memory.ConsolidationJob
	var idsJSON, status string
	var errMsg sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&job.ID, &job.OwnerID, &idsJSON, &status,
		&job.Processed, &job.Consolidated, &job.Errored, &errMsg,
		&job.CreatedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetConsolidationJob: %w", err)
	}
	job.Status = memory.JobStatus(status)
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	if err := json.Unmarshal([]byte(idsJSON), &job.MemoryIDs); err != nil {
		return nil, fmt.Errorf("GetConsolidationJob: parse memory ids: %w", err)
	}
	return &job, nil
}

// MarkJobRunning transitions pending -> running, guarded on status.
func (c *Client) MarkJobRunning(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE consolidation_jobs SET status = 'running' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("MarkJobRunning: %w", err)
	}
	return requireAffected(res, memory.ErrInvalidState)
}

// FinishJob records the terminal state and counters of a job.
func (c *Client) FinishJob(ctx context.Context, job *memory.ConsolidationJob) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE consolidation_jobs
		 SET status = ?, processed = ?, consolidated = ?, errored = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(job.Status), job.Processed, job.Consolidated, job.Errored,
		job.Error, job.FinishedAt, job.ID)
	if err != nil {
		return fmt.Errorf("FinishJob: %w", err)
	}
	return requireAffected(res, memory.ErrNotFound)
}

// InsertSyncSession inserts a sync session.
func (c *Client) InsertSyncSession(ctx context.Context, sess *memory.SyncSession) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sync_sessions
		 (id, agent_a, agent_b, sync_type, status, shared, skipped, errored, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AgentA, sess.AgentB, sess.SyncType, string(sess.Status),
		sess.Shared, sess.Skipped, sess.Errored, sess.Error,
		sess.StartedAt, sess.FinishedAt)
	if err != nil {
		return fmt.Errorf("InsertSyncSession: %w", err)
	}
	return nil
}

// GetSyncSession retrieves one sync session by id.
func (c *Client) GetSyncSession(ctx context.Context, id int64) (*memory.SyncSession, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, agent_a, agent_b, sync_type, status, shared, skipped, errored, error, started_at, finished_at
		 FROM sync_sessions WHERE id = ?`, id)

	var sess memory.SyncSession
	var status string
	var errMsg sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.AgentA, &sess.AgentB, &sess.SyncType, &status,
		&sess.Shared, &sess.Skipped, &sess.Errored, &errMsg,
		&sess.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSyncSession: %w", err)
	}
	sess.Status = memory.JobStatus(status)
	if errMsg.Valid {
		sess.Error = errMsg.String
	}
	if finishedAt.Valid {
		sess.FinishedAt = &finishedAt.Time
	}
	return &sess, nil
}

// MarkSyncInProgress transitions pending -> in_progress, guarded on status.
func (c *Client) MarkSyncInProgress(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE sync_sessions SET status = 'in_progress' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("MarkSyncInProgress: %w", err)
	}
	return requireAffected(res, memory.ErrInvalidState)
}

// FinishSyncSession records the terminal state and counters.
func (c *Client) FinishSyncSession(ctx context.Context, sess *memory.SyncSession) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE sync_sessions
		 SET status = ?, shared = ?, skipped = ?, errored = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(sess.Status), sess.Shared, sess.Skipped, sess.Errored,
		sess.Error, sess.FinishedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("FinishSyncSession: %w", err)
	}
	return requireAffected(res, memory.ErrNotFound)
}

// ---- session store ----

// TouchSession upserts the session's activity time. Archived sessions are
// terminal and stay archived.
func (c *Client) TouchSession(ctx context.Context, ownerID, sessionID string, now time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sessions (owner_id, session_id, status, last_touched_at, created_at)
		 VALUES (?, ?, 'active', ?, ?)
		 ON CONFLICT(owner_id, session_id) DO UPDATE
		 SET last_touched_at = excluded.last_touched_at
		 WHERE sessions.status = 'active'`,
		ownerID, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("TouchSession: %w", err)
	}
	return nil
}

// ListIdleSessions returns active sessions untouched since the cutoff.
func (c *Client) ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*memory.SessionRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT owner_id, session_id, status, last_touched_at, created_at
		 FROM sessions
		 WHERE status = 'active' AND last_touched_at < ?
		 ORDER BY last_touched_at LIMIT ?`,
		cutoff, pageLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("ListIdleSessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*memory.SessionRecord
	for rows.Next() {
		var rec memory.SessionRecord
		var status string
		if err := rows.Scan(&rec.OwnerID, &rec.SessionID, &status,
			&rec.LastTouchedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListIdleSessions: %w", err)
		}
		rec.Status = memory.SessionStatus(status)
		sessions = append(sessions, &rec)
	}
	return sessions, rows.Err()
}

// ArchiveSession transitions a session to archived. Idempotent.
func (c *Client) ArchiveSession(ctx context.Context, ownerID, sessionID string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'archived' WHERE owner_id = ? AND session_id = ?`,
		ownerID, sessionID)
	if err != nil {
		return fmt.Errorf("ArchiveSession: %w", err)
	}
	return nil
}

// ---- scan and query helpers ----

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanShortTerm(scanner rowScanner) (*memory.ShortTermMemory, error) {
	var entry memory.ShortTermMemory
	var mtype, importance string
	var payloadJSON, contextJSON, source sql.NullString
	var flag int

	err := scanner.Scan(&entry.ID, &entry.OwnerID, &entry.SessionID, &mtype,
		&entry.Content, &payloadJSON, &contextJSON, &importance,
		&entry.Confidence, &entry.AccessCount, &entry.LastAccessedAt,
		&entry.CreatedAt, &entry.ExpiresAt, &flag, &source)
	if err != nil {
		return nil, err
	}

	entry.Type = memory.MemoryType(mtype)
	entry.Importance = memory.Importance(importance)
	entry.ShouldConsolidate = flag != 0
	if source.Valid {
		entry.Source = source.String
	}
	if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &entry.Payload); err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" && contextJSON.String != "null" {
		if err := json.Unmarshal([]byte(contextJSON.String), &entry.Context); err != nil {
			return nil, fmt.Errorf("parse context: %w", err)
		}
	}
	return &entry, nil
}

func scanLongTerm(scanner rowScanner) (*memory.LongTermMemory, error) {
	var entry memory.LongTermMemory
	var mtype, importance string
	var summary, keywordsJSON, contextJSON, embeddingJSON sql.NullString
	var weak int

	err := scanner.Scan(&entry.ID, &entry.OwnerID, &mtype, &entry.Content,
		&summary, &keywordsJSON, &contextJSON, &embeddingJSON, &importance,
		&entry.Strength, &weak, &entry.AccessCount, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry.Type = memory.MemoryType(mtype)
	entry.Importance = memory.Importance(importance)
	entry.Weak = weak != 0
	if summary.Valid {
		entry.Summary = summary.String
	}
	if keywordsJSON.Valid && keywordsJSON.String != "" && keywordsJSON.String != "null" {
		if err := json.Unmarshal([]byte(keywordsJSON.String), &entry.Keywords); err != nil {
			return nil, fmt.Errorf("parse keywords: %w", err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" && contextJSON.String != "null" {
		if err := json.Unmarshal([]byte(contextJSON.String), &entry.Context); err != nil {
			return nil, fmt.Errorf("parse context: %w", err)
		}
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" && embeddingJSON.String != "null" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &entry.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	return &entry, nil
}

func scanAssociations(rows *sql.Rows) ([]*memory.MemoryAssociation, error) {
	var assocs []*memory.MemoryAssociation
	for rows.Next() {
		var assoc memory.MemoryAssociation
		var atype string
		if err := rows.Scan(&assoc.ID, &assoc.OwnerID, &assoc.FromID, &assoc.ToID,
			&atype, &assoc.Strength, &assoc.Confidence,
			&assoc.CreatedAt, &assoc.LastReinforcedAt, &assoc.LastDecayedAt); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		assoc.Type = memory.AssociationType(atype)
		assocs = append(assocs, &assoc)
	}
	return assocs, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func requireAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > defaultPageSize {
		return defaultPageSize
	}
	return limit
}
