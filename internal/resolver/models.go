package resolver

import (
	"sort"
	"time"

	"dash-resolver/internal/dash"
	"dash-resolver/internal/manifest"
)

// ManifestID uniquely identifies a resolved manifest held by the service.
type ManifestID string

// ManifestRecord is the top-level in-memory representation of one resolved
// manifest: the canonical model plus the parser that produced it, kept so
// live updates merge into the same stream objects.
type ManifestRecord struct {
	ID        ManifestID
	SourceURI string
	Manifest  *manifest.Manifest
	Parser    *dash.Parser

	CreatedAt   time.Time
	UpdatedAt   time.Time
	UpdateCount int
}

// StreamView is the JSON projection of one resolved stream.
type StreamView struct {
	ID               int      `json:"id"`
	OriginalID       string   `json:"original_id"`
	Type             string   `json:"type"`
	MimeType         string   `json:"mime_type,omitempty"`
	Codecs           string   `json:"codecs,omitempty"`
	Bandwidth        int64    `json:"bandwidth"`
	Width            int      `json:"width,omitempty"`
	Height           int      `json:"height,omitempty"`
	FrameRate        float64  `json:"frame_rate,omitempty"`
	Language         string   `json:"language,omitempty"`
	Label            string   `json:"label,omitempty"`
	Roles            []string `json:"roles,omitempty"`
	KeySystems       []string `json:"key_systems,omitempty"`
	EncryptionScheme string   `json:"encryption_scheme,omitempty"`
	SegmentCount     int      `json:"segment_count"`
	// TrickModeVideo is the stream ID of the linked trick-play rendition.
	TrickModeVideo int `json:"trick_mode_video,omitempty"`
}

// VariantView is the JSON projection of one variant.
type VariantView struct {
	ID        int         `json:"id"`
	Bandwidth int64       `json:"bandwidth"`
	Language  string      `json:"language,omitempty"`
	Primary   bool        `json:"primary"`
	Video     *StreamView `json:"video,omitempty"`
	Audio     *StreamView `json:"audio,omitempty"`
}

// TimelineView is the JSON projection of the presentation timeline.
type TimelineView struct {
	Type                 string  `json:"type"`
	Duration             float64 `json:"duration,omitempty"`
	PresentationDelay    float64 `json:"presentation_delay,omitempty"`
	TimeShiftBufferDepth float64 `json:"time_shift_buffer_depth,omitempty"`
	MinBufferTime        float64 `json:"min_buffer_time,omitempty"`
	MinUpdatePeriod      float64 `json:"min_update_period,omitempty"`
	PeriodCount          int     `json:"period_count"`
	GapCount             int     `json:"gap_count"`
}

// ManifestView is the JSON projection of a resolved manifest.
type ManifestView struct {
	ID          ManifestID    `json:"id"`
	SourceURI   string        `json:"source_uri"`
	Timeline    TimelineView  `json:"timeline"`
	Variants    []VariantView `json:"variants"`
	TextStreams []StreamView  `json:"text_streams,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	UpdateCount int           `json:"update_count"`
}

// ManifestSummary is the list-endpoint projection.
type ManifestSummary struct {
	ID          ManifestID `json:"id"`
	SourceURI   string     `json:"source_uri"`
	Type        string     `json:"type"`
	Variants    int        `json:"variants"`
	UpdateCount int        `json:"update_count"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func viewOf(rec *ManifestRecord) ManifestView {
	man := rec.Manifest
	view := ManifestView{
		ID:        rec.ID,
		SourceURI: rec.SourceURI,
		Timeline: TimelineView{
			Type:                 string(man.Timeline.Type),
			Duration:             man.Timeline.Duration,
			PresentationDelay:    man.Timeline.PresentationDelay,
			TimeShiftBufferDepth: man.Timeline.TimeShiftBufferDepth,
			MinBufferTime:        man.Timeline.MinBufferTime,
			MinUpdatePeriod:      man.Timeline.MinUpdatePeriod,
			PeriodCount:          man.PeriodCount,
			GapCount:             man.GapCount,
		},
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		UpdateCount: rec.UpdateCount,
	}
	for _, v := range man.Variants {
		vv := VariantView{
			ID:        v.ID,
			Bandwidth: v.Bandwidth,
			Language:  v.Language,
			Primary:   v.Primary,
		}
		if v.Video != nil {
			sv := streamView(v.Video)
			vv.Video = &sv
		}
		if v.Audio != nil {
			sv := streamView(v.Audio)
			vv.Audio = &sv
		}
		view.Variants = append(view.Variants, vv)
	}
	for _, s := range man.TextStreams {
		view.TextStreams = append(view.TextStreams, streamView(s))
	}
	return view
}

func streamView(s *manifest.Stream) StreamView {
	view := StreamView{
		ID:               s.ID,
		OriginalID:       s.OriginalID,
		Type:             string(s.Type),
		MimeType:         s.MimeType,
		Codecs:           s.Codecs,
		Bandwidth:        s.Bandwidth,
		Width:            s.Width,
		Height:           s.Height,
		FrameRate:        s.FrameRate,
		Language:         s.Language,
		Label:            s.Label,
		Roles:            s.Roles,
		EncryptionScheme: s.EncryptionScheme,
	}
	for ks := range manifest.KeySystems(s.DrmInfos) {
		view.KeySystems = append(view.KeySystems, ks)
	}
	sort.Strings(view.KeySystems)
	if idx := s.Index(); idx != nil {
		view.SegmentCount = idx.Count()
	}
	if s.TrickModeVideo != nil {
		view.TrickModeVideo = s.TrickModeVideo.ID
	}
	return view
}

func summaryOf(rec *ManifestRecord) ManifestSummary {
	return ManifestSummary{
		ID:          rec.ID,
		SourceURI:   rec.SourceURI,
		Type:        string(rec.Manifest.Timeline.Type),
		Variants:    len(rec.Manifest.Variants),
		UpdateCount: rec.UpdateCount,
		UpdatedAt:   rec.UpdatedAt,
	}
}
