package dash

import (
	"dash-resolver/internal/manifest"
)

// buildSegmentBase resolves SegmentBase addressing: the representation is
// one implicit segment spanning the whole period, and its fine-grained
// sub-segment index lives in a byte range inside the media container.
// Fetching and interpreting that index box belongs to the IndexFetcher
// collaborator; this component only records where the box is and how to
// shift its times.
func buildSegmentBase(pc *periodContext, rep *frame, info *segmentInfo, cfg *Config) (*indexPlan, error) {
	init := resolveInitialization(info, rep.baseURIs, rep.mimeType, rep.codecs)
	periodStart, periodEnd := pc.start, pc.end()
	tsOffset := periodStart - info.presentationTimeOffset

	if cfg.Index != nil && info.hasIndexRange {
		req := IndexRequest{
			URIs:                   rep.baseURIs,
			StartByte:              info.indexRangeStart,
			EndByte:                info.indexRangeEnd,
			Init:                   init,
			Timescale:              info.timescale,
			PresentationTimeOffset: info.presentationTimeOffset,
			PeriodStart:            periodStart,
			PeriodEnd:              periodEnd,
		}
		fetcher := cfg.Index
		return &indexPlan{
			init: init,
			factory: func() (manifest.SegmentIndex, error) {
				refs, err := fetcher.FetchIndex(req)
				if err != nil {
					return nil, err
				}
				return manifest.NewReferences(refs), nil
			},
		}, nil
	}

	// Without a fetcher (or without an index range) the representation
	// degrades to a single reference covering the period.
	ref := &manifest.SegmentReference{
		StartTime:         periodStart,
		EndTime:           periodEnd,
		URIs:              rep.baseURIs,
		Init:              init,
		TimestampOffset:   tsOffset,
		AppendWindowStart: periodStart,
		AppendWindowEnd:   periodEnd,
	}
	return &indexPlan{
		init: init,
		factory: func() (manifest.SegmentIndex, error) {
			return manifest.NewReferences([]*manifest.SegmentReference{ref}), nil
		},
	}, nil
}
