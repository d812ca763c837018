package manifest

// InitSegmentReference locates a stream's initialization segment.
type InitSegmentReference struct {
	URIs      []string
	StartByte int64
	// EndByte is nil when the reference extends to the end of the resource.
	EndByte *int64
	// MediaQuality ties the init segment to the rendition it initializes,
	// so a player can skip re-initialization across compatible switches.
	Codecs   string
	MimeType string
}

// SegmentReference describes one media segment in presentation order.
type SegmentReference struct {
	// StartTime and EndTime are in seconds on the stream's own timescale
	// basis, after division by @timescale and subtraction of
	// presentationTimeOffset.
	StartTime float64
	EndTime   float64

	URIs      []string
	StartByte int64
	EndByte   *int64

	Init *InitSegmentReference

	// TimestampOffset maps media time into the presentation timeline; it
	// absorbs period start minus presentationTimeOffset.
	TimestampOffset   float64
	AppendWindowStart float64
	AppendWindowEnd   float64

	// Partial subdivides the segment for low-latency delivery. When
	// non-empty, players may fetch the partials instead of the full
	// segment.
	Partial []PartialSegmentReference
}

// Duration returns the reference's duration in seconds.
func (r *SegmentReference) Duration() float64 { return r.EndTime - r.StartTime }

// PartialSegmentReference addresses one independently fetchable part of a
// segment.
type PartialSegmentReference struct {
	StartTime float64
	EndTime   float64
	URIs      []string
	StartByte int64
	EndByte   *int64
	// Independent marks the partial as starting on a non-predicted frame,
	// usable as a switch point.
	Independent bool
}
