package resolver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dash-resolver/internal/dash"
)

// Service owns the manifest lifecycle: it resolves MPD documents into
// structured manifests, serves views of them, applies live updates, and
// removes them when the caller is done.
type Service struct {
	repo Repository
	cfg  dash.Config
	log  *slog.Logger
}

// NewService constructs a Service. All resolved manifests share the given
// dash.Config; per-manifest state lives in the stored Parser.
func NewService(repo Repository, cfg dash.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	cfg.Log = log
	return &Service{repo: repo, cfg: cfg, log: log}
}

// Resolve parses the MPD document in body, materializes a segment index for
// every stream, and stores the result under a fresh manifest ID. The sourceURI
// is the address the document was fetched from and anchors relative BaseURLs.
func (s *Service) Resolve(body []byte, sourceURI string) (*ManifestRecord, error) {
	parser := dash.New(s.cfg)
	man, err := parser.Parse(body, sourceURI)
	if err != nil {
		return nil, err
	}
	for _, st := range man.AllStreams() {
		if err := st.CreateSegmentIndex(); err != nil {
			return nil, fmt.Errorf("create segment index for stream %d: %w", st.ID, err)
		}
	}

	now := time.Now().UTC()
	rec := &ManifestRecord{
		ID:        ManifestID(uuid.NewString()),
		SourceURI: sourceURI,
		Manifest:  man,
		Parser:    parser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.repo.Put(rec)

	s.log.Info("manifest resolved",
		"manifest_id", rec.ID,
		"type", man.Timeline.Type,
		"variants", len(man.Variants),
		"text_streams", len(man.TextStreams),
	)
	return rec, nil
}

// Get returns the record for id.
func (s *Service) Get(id ManifestID) (*ManifestRecord, error) {
	rec, ok := s.repo.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns all stored records ordered by creation time.
func (s *Service) List() []*ManifestRecord {
	return s.repo.List()
}

// Update re-parses a newer copy of the manifest document through the stored
// Parser, so segment references merge into the live indexes playback already
// holds. Streams keep their identity across the update.
func (s *Service) Update(id ManifestID, body []byte) (*ManifestRecord, error) {
	var updated *ManifestRecord
	err := s.repo.Mutate(id, func(rec *ManifestRecord) error {
		if _, err := rec.Parser.Parse(body, rec.SourceURI); err != nil {
			return err
		}
		for _, st := range rec.Manifest.AllStreams() {
			if st.Index() != nil {
				continue
			}
			if err := st.CreateSegmentIndex(); err != nil {
				return fmt.Errorf("create segment index for stream %d: %w", st.ID, err)
			}
		}
		rec.UpdatedAt = time.Now().UTC()
		rec.UpdateCount++
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("manifest updated",
		"manifest_id", updated.ID,
		"update_count", updated.UpdateCount,
	)
	return updated, nil
}

// Delete removes the record for id.
func (s *Service) Delete(id ManifestID) error {
	if _, ok := s.repo.Get(id); !ok {
		return ErrNotFound
	}
	s.repo.Delete(id)
	s.log.Info("manifest deleted", "manifest_id", id)
	return nil
}

// LiveCount reports how many stored manifests are dynamic. Exposed for the
// metrics gauge.
func (s *Service) LiveCount() int {
	return s.repo.LiveCount()
}
