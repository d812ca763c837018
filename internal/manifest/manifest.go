// Package manifest defines the resolved presentation model produced by the
// DASH resolver and consumed by a playback engine: variants, streams, DRM
// info, and time-indexed segment catalogs. Everything here is immutable
// once returned by the resolver, except segment indexes of live
// presentations, which are appended to and evicted from on re-parse.
package manifest

import (
	"sort"
	"time"
)

// StreamType classifies the content a Stream carries.
type StreamType string

const (
	TypeVideo StreamType = "video"
	TypeAudio StreamType = "audio"
	TypeText  StreamType = "text"
	TypeImage StreamType = "image"
)

// PresentationType distinguishes VOD from live manifests.
type PresentationType string

const (
	// Static presentations (VOD) have a fixed segment catalog.
	Static PresentationType = "static"
	// Dynamic presentations (live) are re-parsed and their indexes mutate.
	Dynamic PresentationType = "dynamic"
)

// Encryption schemes carried by DrmInfo.
const (
	SchemeCenc = "cenc"
	SchemeCbcs = "cbcs"
)

// Timeline holds the presentation-level timing metadata of a manifest.
type Timeline struct {
	Type                 PresentationType
	Duration             float64 // seconds; 0 for unbounded live
	AvailabilityStart    time.Time
	PresentationDelay    float64
	TimeShiftBufferDepth float64
	MaxSegmentDuration   float64
	MinBufferTime        float64
	MinUpdatePeriod      float64
	ClockOffset          float64 // seconds to add to local time, from clock sync
}

// IsLive reports whether the timeline describes a dynamic presentation.
func (t *Timeline) IsLive() bool { return t.Type == Dynamic }

// Manifest is the canonical, queryable presentation model.
type Manifest struct {
	Timeline     Timeline
	Variants     []*Variant
	TextStreams  []*Stream
	ImageStreams []*Stream

	// PeriodCount and GapCount describe the period structure the variants
	// were folded from: a gap exists wherever one period's end does not
	// exactly meet the next period's start.
	PeriodCount int
	GapCount    int
}

// AllStreams returns every stream reachable from the manifest, each at most
// once, in a stable order.
func (m *Manifest) AllStreams() []*Stream {
	seen := make(map[int]bool)
	var out []*Stream
	add := func(s *Stream) {
		if s != nil && !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	for _, v := range m.Variants {
		add(v.Video)
		add(v.Audio)
	}
	for _, s := range m.TextStreams {
		add(s)
	}
	for _, s := range m.ImageStreams {
		add(s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Variant is a playable combination of at most one video and one audio
// stream. Text and image streams are carried on the Manifest directly.
type Variant struct {
	ID        int
	Language  string
	Primary   bool
	Audio     *Stream
	Video     *Stream
	Bandwidth int64
}

// Stream is one resolved, player-facing rendition.
type Stream struct {
	ID               int
	OriginalID       string
	Type             StreamType
	MimeType         string
	Codecs           string
	Bandwidth        int64
	Width            int
	Height           int
	FrameRate        float64
	PixelAspectRatio string
	Language         string
	Label            string
	Roles            []string
	Primary          bool

	// KeyIDs is the set of default key IDs (32 lowercase hex chars)
	// declared for this stream across all its key systems.
	KeyIDs map[string]bool
	// DrmInfos lists the resolved key systems; key systems are unique
	// within one stream. An entry with an empty KeySystem means the stream
	// is encrypted under a scheme the resolver did not recognize.
	DrmInfos []*DrmInfo
	// EncryptionScheme is "cenc" or "cbcs", or "" for clear streams.
	EncryptionScheme string

	// TrickModeVideo points at an alternate (typically I-frame-only)
	// rendition of this stream, when the manifest declares one.
	TrickModeVideo *Stream
	// DependencyStream points at the base layer this enhancement-layer
	// stream depends on. Bandwidth already includes the base layer's.
	DependencyStream *Stream

	index   SegmentIndex
	makeIdx func() (SegmentIndex, error)
}

// SetIndexFactory installs the deferred segment-index constructor. The
// resolver calls this once per stream; playback calls CreateSegmentIndex
// when it is about to use the stream.
func (s *Stream) SetIndexFactory(fn func() (SegmentIndex, error)) {
	s.makeIdx = fn
}

// CreateSegmentIndex materializes the stream's segment index. It is
// idempotent: the second and later calls are no-ops.
func (s *Stream) CreateSegmentIndex() error {
	if s.index != nil {
		return nil
	}
	if s.makeIdx == nil {
		return nil
	}
	idx, err := s.makeIdx()
	if err != nil {
		return err
	}
	s.index = idx
	return nil
}

// Index returns the stream's segment index, or nil before
// CreateSegmentIndex has succeeded.
func (s *Stream) Index() SegmentIndex { return s.index }

// DrmInfo describes one key system resolved for a stream.
type DrmInfo struct {
	// KeySystem is a reverse-domain key-system identifier such as
	// "com.widevine.alpha". Empty string marks an unrecognized scheme.
	KeySystem        string
	EncryptionScheme string
	KeyIDs           map[string]bool
	InitData         []InitDataOverride
	LicenseServerURI string
}

// InitDataOverride carries one piece of DRM initialization data.
type InitDataOverride struct {
	// Type is the EME init data type, "cenc" for PSSH boxes.
	Type string
	// Data is the raw init data, a PSSH box verbatim or synthesized.
	Data []byte
	// KeyID optionally names the key the init data belongs to.
	KeyID string
}

// KeySystems returns the set of key systems present in infos.
func KeySystems(infos []*DrmInfo) map[string]bool {
	out := make(map[string]bool, len(infos))
	for _, i := range infos {
		out[i.KeySystem] = true
	}
	return out
}
