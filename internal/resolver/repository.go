package resolver

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a manifest ID does not resolve to a record.
var ErrNotFound = errors.New("manifest not found")

// Repository defines the concurrency-safe contract for accessing and
// mutating resolved-manifest records.
type Repository interface {
	// Put stores or replaces a record.
	Put(rec *ManifestRecord)

	// Get returns the record for id. The second return is false when the
	// id is unknown.
	Get(id ManifestID) (*ManifestRecord, bool)

	// Mutate runs fn against the record for id under the write lock, so
	// re-parses cannot race with concurrent reads of the record fields.
	Mutate(id ManifestID, fn func(rec *ManifestRecord) error) error

	// Delete removes the record for id. Deleting an unknown id is a no-op.
	Delete(id ManifestID)

	// List returns a snapshot of all records ordered by creation time.
	List() []*ManifestRecord

	// LiveCount returns the number of stored dynamic manifests. Used for
	// metrics.
	LiveCount() int
}

// InMemoryRepository is a concurrency-safe in-memory implementation of
// Repository backed by a Store.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given
// Store. Useful for testing or for plugging in a different persistence
// backend.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Put implements Repository.Put.
func (r *InMemoryRepository) Put(rec *ManifestRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.SetRecord(rec)
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id ManifestID) (*ManifestRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetRecord(id)
}

// Mutate implements Repository.Mutate.
func (r *InMemoryRepository) Mutate(id ManifestID, fn func(rec *ManifestRecord) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.store.GetRecord(id)
	if !ok {
		return ErrNotFound
	}
	return fn(rec)
}

// Delete implements Repository.Delete.
func (r *InMemoryRepository) Delete(id ManifestID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.DeleteRecord(id)
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []*ManifestRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ManifestRecord, 0)
	for _, id := range r.store.ListIDs() {
		if rec, ok := r.store.GetRecord(id); ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// LiveCount implements Repository.LiveCount.
func (r *InMemoryRepository) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListIDs() {
		if rec, ok := r.store.GetRecord(id); ok && rec.Manifest.Timeline.IsLive() {
			n++
		}
	}
	return n
}
