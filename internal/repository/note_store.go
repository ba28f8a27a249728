package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"kit-notes-server/internal/domain"
)

// NoteStore is the versioned, soft-deletable record of notes. Every
// mutation keeps exactly one latest version per lineage.
type NoteStore interface {
	Create(ctx context.Context, content string, tags []string, properties map[string]any) (*domain.NoteVersion, error)
	UpdateContent(ctx context.Context, lineageID, content string) (*domain.NoteVersion, error)
	UpdateProperties(ctx context.Context, lineageID string, patch map[string]any) (*domain.NoteVersion, error)
	AddTags(ctx context.Context, lineageID string, tags []string) (*domain.NoteVersion, error)
	RemoveTags(ctx context.Context, lineageID string, tags []string) (*domain.NoteVersion, error)
	SoftDelete(ctx context.Context, lineageID string) (*domain.NoteVersion, error)
	Restore(ctx context.Context, lineageID string) (*domain.NoteVersion, error)
	FindByCriteria(ctx context.Context, criteria domain.NoteCriteria) ([]*domain.NoteVersion, error)
	FindByID(ctx context.Context, lineageID string) (*domain.NoteVersion, error)
	History(ctx context.Context, lineageID string) ([]*domain.NoteVersion, error)
	ListTags(ctx context.Context) ([]string, error)
	Close() error
}

// maxMutationAttempts bounds retries when another writer replaced the
// latest version between read and write.
const maxMutationAttempts = 5

// errStaleLatest means the version read as latest was superseded before
// the flip was written.
var errStaleLatest = errors.New("latest version changed concurrently")

// successorFunc derives the next version from the current latest one.
// Returning nil means the operation is a no-op.
type successorFunc func(cur *domain.NoteVersion) (*domain.NoteVersion, error)

func contentSuccessor(content string) successorFunc {
	return func(cur *domain.NoteVersion) (*domain.NoteVersion, error) {
		next := cur.Successor()
		next.Content = content
		return next, nil
	}
}

func propertiesSuccessor(patch map[string]any) successorFunc {
	return func(cur *domain.NoteVersion) (*domain.NoteVersion, error) {
		next := cur.Successor()
		next.Properties = domain.MergeProperties(cur.Properties, patch)
		return next, nil
	}
}

func addTagsSuccessor(tags []string) successorFunc {
	return func(cur *domain.NoteVersion) (*domain.NoteVersion, error) {
		merged, changed := domain.UnionTags(cur.Tags, tags)
		if !changed {
			return nil, nil
		}
		next := cur.Successor()
		next.Tags = merged
		return next, nil
	}
}

func removeTagsSuccessor(tags []string) successorFunc {
	return func(cur *domain.NoteVersion) (*domain.NoteVersion, error) {
		remaining, changed := domain.DifferenceTags(cur.Tags, tags)
		if !changed {
			return nil, nil
		}
		next := cur.Successor()
		next.Tags = remaining
		return next, nil
	}
}

// sortNewestFirst orders versions by creation time, newest first, breaking
// ties with the version id.
func sortNewestFirst(versions []*domain.NoteVersion, idLess func(a, b string) bool) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return idLess(b.VersionID, a.VersionID)
	})
}

// lineageLocks serializes mutations per lineage inside one process.
type lineageLocks struct {
	mu    sync.Mutex
	locks map[string]*lineageLock
}

type lineageLock struct {
	mu   sync.Mutex
	refs int
}

func newLineageLocks() *lineageLocks {
	return &lineageLocks{locks: make(map[string]*lineageLock)}
}

func (l *lineageLocks) lock(lineageID string) func() {
	l.mu.Lock()
	lk, ok := l.locks[lineageID]
	if !ok {
		lk = &lineageLock{}
		l.locks[lineageID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, lineageID)
		}
		l.mu.Unlock()
	}
}
