package resolver

// Store is the persistence abstraction for resolved-manifest records.
// Implementations can be in-memory, file-based, or remote. The Repository
// uses Store for all reads and writes; callers of Repository do not need
// to know which Store is used.
type Store interface {
	GetRecord(id ManifestID) (*ManifestRecord, bool)
	SetRecord(rec *ManifestRecord)
	DeleteRecord(id ManifestID)
	ListIDs() []ManifestID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	records map[ManifestID]*ManifestRecord
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[ManifestID]*ManifestRecord),
	}
}

// GetRecord implements Store.GetRecord.
func (s *InMemoryStore) GetRecord(id ManifestID) (*ManifestRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// SetRecord implements Store.SetRecord.
func (s *InMemoryStore) SetRecord(rec *ManifestRecord) {
	s.records[rec.ID] = rec
}

// DeleteRecord implements Store.DeleteRecord.
func (s *InMemoryStore) DeleteRecord(id ManifestID) {
	delete(s.records, id)
}

// ListIDs implements Store.ListIDs.
func (s *InMemoryStore) ListIDs() []ManifestID {
	ids := make([]ManifestID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}
