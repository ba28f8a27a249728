package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kit-notes-server/internal/domain"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

type SQLiteConfig struct {
	Path string
	// Now overrides the clock used for created_at and deleted_at.
	Now func() time.Time
}

// SQLiteNoteStore keeps every note version as a row. The latest row of a
// lineage is marked with is_latest; a partial unique index forbids two.
type SQLiteNoteStore struct {
	db     *sql.DB
	locks  *lineageLocks
	now    func() time.Time
	logger zerolog.Logger
}

func NewSQLiteNoteStore(cfg SQLiteConfig, logger zerolog.Logger) (*SQLiteNoteStore, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	// IMMEDIATE transactions take the write lock up front so two writers
	// never read the same latest row as their base.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", cfg.Path)
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &SQLiteNoteStore{
		db:     db,
		locks:  newLineageLocks(),
		now:    now,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteNoteStore) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *SQLiteNoteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS note_versions (
			version_id      INTEGER PRIMARY KEY AUTOINCREMENT,
			lineage_id      INTEGER NOT NULL,
			content         TEXT    NOT NULL,
			tags_json       TEXT    NOT NULL DEFAULT '[]',
			properties_json TEXT    NOT NULL DEFAULT '{}',
			created_at      INTEGER NOT NULL,
			is_latest       INTEGER NOT NULL DEFAULT 1,
			is_deleted      INTEGER NOT NULL DEFAULT 0,
			deleted_at      INTEGER
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_one_latest
			ON note_versions(lineage_id) WHERE is_latest = 1;
		CREATE INDEX IF NOT EXISTS idx_versions_lineage ON note_versions(lineage_id, version_id DESC);
		CREATE INDEX IF NOT EXISTS idx_versions_created ON note_versions(created_at DESC);
	`)
	return err
}

// ─── Writes ──────────────────────────────────────────────────────────────────

func (s *SQLiteNoteStore) Create(ctx context.Context, content string, tags []string, properties map[string]any) (*domain.NoteVersion, error) {
	v := &domain.NoteVersion{
		Content:    content,
		Tags:       domain.NormalizeTags(tags),
		Properties: domain.CopyProperties(properties),
		CreatedAt:  s.now().UTC(),
		IsLatest:   true,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertVersion(ctx, tx, 0, v)
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE note_versions SET lineage_id = ? WHERE version_id = ?`, id, id); err != nil {
		return nil, fmt.Errorf("failed to assign lineage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit note: %w", err)
	}

	v.VersionID = formatID(id)
	v.LineageID = formatID(id)
	s.logger.Debug().Str("lineage_id", v.LineageID).Msg("note created")
	return v, nil
}

func (s *SQLiteNoteStore) UpdateContent(ctx context.Context, lineageID, content string) (*domain.NoteVersion, error) {
	return s.appendVersion(ctx, lineageID, contentSuccessor(content))
}

func (s *SQLiteNoteStore) UpdateProperties(ctx context.Context, lineageID string, patch map[string]any) (*domain.NoteVersion, error) {
	return s.appendVersion(ctx, lineageID, propertiesSuccessor(patch))
}

func (s *SQLiteNoteStore) AddTags(ctx context.Context, lineageID string, tags []string) (*domain.NoteVersion, error) {
	return s.appendVersion(ctx, lineageID, addTagsSuccessor(tags))
}

func (s *SQLiteNoteStore) RemoveTags(ctx context.Context, lineageID string, tags []string) (*domain.NoteVersion, error) {
	return s.appendVersion(ctx, lineageID, removeTagsSuccessor(tags))
}

// appendVersion flips the current latest row and inserts its successor in
// one transaction.
func (s *SQLiteNoteStore) appendVersion(ctx context.Context, lineageID string, next successorFunc) (*domain.NoteVersion, error) {
	lid, err := parseID(lineageID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(formatID(lid))
	defer unlock()

	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		v, err := s.tryAppendVersion(ctx, lid, next)
		if errors.Is(err, errStaleLatest) {
			s.logger.Warn().Str("lineage_id", lineageID).Int("attempt", attempt).Msg("latest version moved, retrying")
			continue
		}
		return v, err
	}
	return nil, fmt.Errorf("note %s: %w", lineageID, errStaleLatest)
}

func (s *SQLiteNoteStore) tryAppendVersion(ctx context.Context, lid int64, next successorFunc) (*domain.NoteVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := latestVersion(ctx, tx, lid)
	if err != nil {
		return nil, err
	}
	if cur.IsDeleted {
		return nil, fmt.Errorf("note %s is deleted: %w", cur.LineageID, domain.ErrNotFound)
	}

	v, err := next(cur)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return cur, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE note_versions SET is_latest = 0 WHERE version_id = ? AND is_latest = 1`,
		mustParseID(cur.VersionID))
	if err != nil {
		return nil, fmt.Errorf("failed to retire version: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, errStaleLatest
	}

	v.CreatedAt = s.now().UTC()
	id, err := insertVersion(ctx, tx, lid, v)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version: %w", err)
	}

	v.VersionID = formatID(id)
	return v, nil
}

func (s *SQLiteNoteStore) SoftDelete(ctx context.Context, lineageID string) (*domain.NoteVersion, error) {
	return s.setTombstone(ctx, lineageID, true)
}

func (s *SQLiteNoteStore) Restore(ctx context.Context, lineageID string) (*domain.NoteVersion, error) {
	return s.setTombstone(ctx, lineageID, false)
}

// setTombstone edits the flag of the latest row in place.
func (s *SQLiteNoteStore) setTombstone(ctx context.Context, lineageID string, deleted bool) (*domain.NoteVersion, error) {
	lid, err := parseID(lineageID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(formatID(lid))
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := latestVersion(ctx, tx, lid)
	if err != nil {
		return nil, err
	}

	if deleted {
		if cur.IsDeleted {
			return cur, nil
		}
		at := s.now().UTC()
		cur.IsDeleted = true
		cur.DeletedAt = &at
	} else {
		if !cur.IsDeleted {
			return nil, fmt.Errorf("note %s is not deleted: %w", lineageID, domain.ErrNotFound)
		}
		cur.IsDeleted = false
		cur.DeletedAt = nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE note_versions SET is_deleted = ?, deleted_at = ? WHERE version_id = ? AND is_latest = 1`,
		boolToInt(cur.IsDeleted), nullableTime(cur.DeletedAt), mustParseID(cur.VersionID)); err != nil {
		return nil, fmt.Errorf("failed to update tombstone: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tombstone: %w", err)
	}
	return cur, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

const versionColumns = `version_id, lineage_id, content, tags_json, properties_json, created_at, is_latest, is_deleted, deleted_at`

func (s *SQLiteNoteStore) FindByID(ctx context.Context, lineageID string) (*domain.NoteVersion, error) {
	lid, err := parseID(lineageID)
	if err != nil {
		return nil, err
	}
	return latestVersion(ctx, s.db, lid)
}

func (s *SQLiteNoteStore) FindByCriteria(ctx context.Context, c domain.NoteCriteria) ([]*domain.NoteVersion, error) {
	var (
		where = []string{"is_latest = 1"}
		args  []any
	)

	if !c.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	for _, tag := range c.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(tags_json) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if len(c.AnyTags) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(tags_json) WHERE json_each.value IN ("+placeholders(len(c.AnyTags))+"))")
		args = append(args, stringArgs(c.AnyTags)...)
	}
	if len(c.ExcludeTags) > 0 {
		where = append(where, "NOT EXISTS (SELECT 1 FROM json_each(tags_json) WHERE json_each.value IN ("+placeholders(len(c.ExcludeTags))+"))")
		args = append(args, stringArgs(c.ExcludeTags)...)
	}
	if c.DateFrom != nil {
		where = append(where, "created_at >= ?")
		args = append(args, c.DateFrom.UnixNano())
	}
	if c.DateTo != nil {
		where = append(where, "created_at <= ?")
		args = append(args, c.DateTo.UnixNano())
	}

	query := `SELECT ` + versionColumns + ` FROM note_versions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, version_id DESC`

	versions, err := queryVersions(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	if c.Text == "" && len(c.Keywords) == 0 {
		return versions, nil
	}

	// SQLite's lower() folds ASCII only, so text and keywords are matched here.
	matched := versions[:0]
	for _, v := range versions {
		if c.Matches(v) {
			matched = append(matched, v)
		}
	}
	return matched, nil
}

func (s *SQLiteNoteStore) History(ctx context.Context, lineageID string) ([]*domain.NoteVersion, error) {
	lid, err := parseID(lineageID)
	if err != nil {
		return nil, err
	}

	versions, err := queryVersions(ctx, s.db,
		`SELECT `+versionColumns+` FROM note_versions WHERE lineage_id = ? ORDER BY version_id DESC`, lid)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("note %s: %w", lineageID, domain.ErrNotFound)
	}
	return versions, nil
}

func (s *SQLiteNoteStore) ListTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT j.value
		FROM note_versions v, json_each(v.tags_json) j
		WHERE v.is_latest = 1 AND v.is_deleted = 0
		ORDER BY j.value`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func latestVersion(ctx context.Context, q querier, lid int64) (*domain.NoteVersion, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM note_versions WHERE lineage_id = ? AND is_latest = 1`, lid)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %d: %w", lid, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find note: %w", err)
	}
	return v, nil
}

func queryVersions(ctx context.Context, q querier, query string, args ...any) ([]*domain.NoteVersion, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	versions := []*domain.NoteVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func scanVersion(sc rowScanner) (*domain.NoteVersion, error) {
	var (
		versionID, lineageID int64
		createdAt            int64
		isLatest, isDeleted  int
		deletedAt            sql.NullInt64
		tagsJSON, propsJSON  string
		v                    domain.NoteVersion
	)
	if err := sc.Scan(&versionID, &lineageID, &v.Content, &tagsJSON, &propsJSON,
		&createdAt, &isLatest, &isDeleted, &deletedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &v.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(propsJSON), &v.Properties); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if v.Properties == nil {
		v.Properties = map[string]any{}
	}

	v.VersionID = formatID(versionID)
	v.LineageID = formatID(lineageID)
	v.CreatedAt = time.Unix(0, createdAt).UTC()
	v.IsLatest = isLatest == 1
	v.IsDeleted = isDeleted == 1
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64).UTC()
		v.DeletedAt = &t
	}
	return &v, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, lid int64, v *domain.NoteVersion) (int64, error) {
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if v.Properties == nil {
		v.Properties = map[string]any{}
	}
	tagsJSON, err := json.Marshal(v.Tags)
	if err != nil {
		return 0, fmt.Errorf("encode tags: %w", err)
	}
	propsJSON, err := json.Marshal(v.Properties)
	if err != nil {
		return 0, fmt.Errorf("encode properties: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO note_versions (lineage_id, content, tags_json, properties_json, created_at, is_latest, is_deleted)
		VALUES (?, ?, ?, ?, ?, 1, 0)`,
		lid, v.Content, string(tagsJSON), string(propsJSON), v.CreatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("note %q: %w", id, domain.ErrNotFound)
	}
	return n, nil
}

func mustParseID(id string) int64 {
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
