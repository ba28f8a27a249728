package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"kit-notes-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	lineageDocType = "lineage"

	// defaultFindPageSize caps each _find request; CouchDB otherwise stops at 25.
	defaultFindPageSize = 200
)

// errRevisionConflict is returned when a document was updated by another
// writer since it was read.
var errRevisionConflict = errors.New("document revision conflict")

// lineageDoc stores a whole lineage in one CouchDB document, so flipping the
// latest flag and appending the successor is a single atomic write.
type lineageDoc struct {
	ID       string                `json:"_id"`
	Rev      string                `json:"_rev,omitempty"`
	Type     string                `json:"type"`
	Versions []*domain.NoteVersion `json:"versions"`
}

func (d *lineageDoc) latest() *domain.NoteVersion {
	for i := len(d.Versions) - 1; i >= 0; i-- {
		if d.Versions[i].IsLatest {
			return d.Versions[i]
		}
	}
	return nil
}

type lineageDocuments interface {
	get(ctx context.Context, id string) (*lineageDoc, error)
	put(ctx context.Context, doc *lineageDoc) (string, error)
	// page returns up to limit lineage documents after bookmark, and the
	// bookmark that continues the listing.
	page(ctx context.Context, bookmark string, limit int) ([]*lineageDoc, string, error)
}

type kivikLineageDocuments struct {
	client *kivik.Client
	dbName string
}

func (k *kivikLineageDocuments) get(ctx context.Context, id string) (*lineageDoc, error) {
	db := k.client.DB(k.dbName)

	var doc lineageDoc
	if err := db.Get(ctx, id).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, fmt.Errorf("note %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find note: %w", err)
	}
	return &doc, nil
}

func (k *kivikLineageDocuments) put(ctx context.Context, doc *lineageDoc) (string, error) {
	db := k.client.DB(k.dbName)

	rev, err := db.Put(ctx, doc.ID, doc)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return "", errRevisionConflict
		}
		return "", fmt.Errorf("failed to save note: %w", err)
	}
	return rev, nil
}

func (k *kivikLineageDocuments) page(ctx context.Context, bookmark string, limit int) ([]*lineageDoc, string, error) {
	db := k.client.DB(k.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type": lineageDocType,
		},
		"limit": limit,
	}
	if bookmark != "" {
		query["bookmark"] = bookmark
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var docs []*lineageDoc
	for rows.Next() {
		var doc lineageDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, "", fmt.Errorf("failed to scan note: %w", err)
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to list notes: %w", err)
	}

	meta, err := rows.Metadata()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read listing bookmark: %w", err)
	}
	return docs, meta.Bookmark, nil
}

// CouchNoteStore keeps one document per lineage and relies on CouchDB
// revisions for atomic latest-version flips.
type CouchNoteStore struct {
	docs     lineageDocuments
	locks    *lineageLocks
	now      func() time.Time
	pageSize int
	logger   zerolog.Logger
}

func NewCouchNoteStore(client *kivik.Client, dbName string, logger zerolog.Logger) *CouchNoteStore {
	return newCouchNoteStore(&kivikLineageDocuments{client: client, dbName: dbName}, time.Now, logger)
}

func newCouchNoteStore(docs lineageDocuments, now func() time.Time, logger zerolog.Logger) *CouchNoteStore {
	return &CouchNoteStore{
		docs:     docs,
		locks:    newLineageLocks(),
		now:      now,
		pageSize: defaultFindPageSize,
		logger:   logger.With().Str("component", "couch_store").Logger(),
	}
}

// allLineages pages through every lineage document.
func (s *CouchNoteStore) allLineages(ctx context.Context) ([]*lineageDoc, error) {
	var (
		all      []*lineageDoc
		bookmark string
	)
	for {
		docs, next, err := s.docs.page(ctx, bookmark, s.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, docs...)
		if len(docs) < s.pageSize || next == "" || next == bookmark {
			return all, nil
		}
		bookmark = next
	}
}

// EnsureCouchDB creates the database when it does not exist yet.
func EnsureCouchDB(ctx context.Context, client *kivik.Client, dbName string) (bool, error) {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := client.CreateDB(ctx, dbName); err != nil {
		return false, fmt.Errorf("failed to create database: %w", err)
	}
	return true, nil
}

func (s *CouchNoteStore) Close() error {
	return nil
}

func (s *CouchNoteStore) Create(ctx context.Context, content string, tags []string, properties map[string]any) (*domain.NoteVersion, error) {
	lineageID := uuid.New().String()
	v := &domain.NoteVersion{
		VersionID:  newVersionID(),
		LineageID:  lineageID,
		Content:    content,
		Tags:       domain.NormalizeTags(tags),
		Properties: domain.CopyProperties(properties),
		CreatedAt:  s.now().UTC(),
		IsLatest:   true,
	}

	doc := &lineageDoc{
		ID:       docID(lineageID),
		Type:     lineageDocType,
		Versions: []*domain.NoteVersion{v},
	}
	if _, err := s.docs.put(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	s.logger.Debug().Str("lineage_id", lineageID).Msg("note created")
	return v.Clone(), nil
}

func (s *CouchNoteStore) UpdateContent(ctx context.Context, lineageID, content string) (*domain.NoteVersion, error) {
	return s.appendVersion(ctx, lineageID, contentSuccessor(content))
}

func (s *CouchNoteStore) UpdateProperties(ctx context.Context, lineageID string, patch map[string]any) (*domain.NoteVersion, error) {
	return s.appendVersion(ctx, lineageID, propertiesSuccessor(patch))
}

func (s *CouchNoteStore) AddTags(ctx context.Context, lineageID string, tags []string) (*domain.NoteVersion, error) {
	return s.appendVersion(ctx, lineageID, addTagsSuccessor(tags))
}

func (s *CouchNoteStore) RemoveTags(ctx context.Context, lineageID string, tags []string) (*domain.NoteVersion, error) {
	return s.appendVersion(ctx, lineageID, removeTagsSuccessor(tags))
}

func (s *CouchNoteStore) appendVersion(ctx context.Context, lineageID string, next successorFunc) (*domain.NoteVersion, error) {
	return s.mutate(ctx, lineageID, func(doc *lineageDoc, cur *domain.NoteVersion) (*domain.NoteVersion, bool, error) {
		if cur.IsDeleted {
			return nil, false, fmt.Errorf("note %s is deleted: %w", lineageID, domain.ErrNotFound)
		}
		v, err := next(cur)
		if err != nil || v == nil {
			return cur, false, err
		}

		v.VersionID = newVersionID()
		v.CreatedAt = s.now().UTC()
		cur.IsLatest = false
		doc.Versions = append(doc.Versions, v)
		return v, true, nil
	})
}

func (s *CouchNoteStore) SoftDelete(ctx context.Context, lineageID string) (*domain.NoteVersion, error) {
	return s.mutate(ctx, lineageID, func(_ *lineageDoc, cur *domain.NoteVersion) (*domain.NoteVersion, bool, error) {
		if cur.IsDeleted {
			return cur, false, nil
		}
		at := s.now().UTC()
		cur.IsDeleted = true
		cur.DeletedAt = &at
		return cur, true, nil
	})
}

func (s *CouchNoteStore) Restore(ctx context.Context, lineageID string) (*domain.NoteVersion, error) {
	return s.mutate(ctx, lineageID, func(_ *lineageDoc, cur *domain.NoteVersion) (*domain.NoteVersion, bool, error) {
		if !cur.IsDeleted {
			return nil, false, fmt.Errorf("note %s is not deleted: %w", lineageID, domain.ErrNotFound)
		}
		cur.IsDeleted = false
		cur.DeletedAt = nil
		return cur, true, nil
	})
}

// docMutation edits doc in memory and reports whether it must be saved.
type docMutation func(doc *lineageDoc, cur *domain.NoteVersion) (*domain.NoteVersion, bool, error)

// mutate applies fn to a freshly read document and saves it with the read
// revision, retrying from a new read when another writer got there first.
func (s *CouchNoteStore) mutate(ctx context.Context, lineageID string, fn docMutation) (*domain.NoteVersion, error) {
	unlock := s.locks.lock(strings.TrimSpace(lineageID))
	defer unlock()

	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		doc, err := s.docs.get(ctx, docID(lineageID))
		if err != nil {
			return nil, err
		}
		cur := doc.latest()
		if cur == nil {
			return nil, fmt.Errorf("note %s has no latest version: %w", lineageID, domain.ErrNotFound)
		}

		v, changed, err := fn(doc, cur)
		if err != nil {
			return nil, err
		}
		if !changed {
			return v.Clone(), nil
		}

		if _, err := s.docs.put(ctx, doc); err != nil {
			if errors.Is(err, errRevisionConflict) {
				s.logger.Warn().Str("lineage_id", lineageID).Int("attempt", attempt).Msg("revision conflict, retrying")
				continue
			}
			return nil, err
		}
		return v.Clone(), nil
	}
	return nil, fmt.Errorf("note %s: %w", lineageID, errStaleLatest)
}

func (s *CouchNoteStore) FindByID(ctx context.Context, lineageID string) (*domain.NoteVersion, error) {
	doc, err := s.docs.get(ctx, docID(lineageID))
	if err != nil {
		return nil, err
	}
	cur := doc.latest()
	if cur == nil {
		return nil, fmt.Errorf("note %s: %w", lineageID, domain.ErrNotFound)
	}
	return cur.Clone(), nil
}

func (s *CouchNoteStore) FindByCriteria(ctx context.Context, c domain.NoteCriteria) ([]*domain.NoteVersion, error) {
	docs, err := s.allLineages(ctx)
	if err != nil {
		return nil, err
	}

	found := []*domain.NoteVersion{}
	for _, doc := range docs {
		cur := doc.latest()
		if cur != nil && c.Matches(cur) {
			found = append(found, cur.Clone())
		}
	}
	sortNewestFirst(found, func(a, b string) bool { return a < b })
	return found, nil
}

func (s *CouchNoteStore) History(ctx context.Context, lineageID string) ([]*domain.NoteVersion, error) {
	doc, err := s.docs.get(ctx, docID(lineageID))
	if err != nil {
		return nil, err
	}

	versions := make([]*domain.NoteVersion, 0, len(doc.Versions))
	for i := len(doc.Versions) - 1; i >= 0; i-- {
		versions = append(versions, doc.Versions[i].Clone())
	}
	return versions, nil
}

func (s *CouchNoteStore) ListTags(ctx context.Context) ([]string, error) {
	docs, err := s.allLineages(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, doc := range docs {
		cur := doc.latest()
		if cur == nil || cur.IsDeleted {
			continue
		}
		for _, t := range cur.Tags {
			seen[t] = struct{}{}
		}
	}

	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags, nil
}

func docID(lineageID string) string {
	return fmt.Sprintf("lineage:%s", strings.TrimSpace(lineageID))
}

// newVersionID returns a time-ordered id so equal timestamps still sort by
// insertion.
func newVersionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
