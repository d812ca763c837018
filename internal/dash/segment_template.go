package dash

import (
	"math"
	"strings"

	"dash-resolver/internal/manifest"
	"dash-resolver/internal/mpderr"
	"dash-resolver/internal/xmlutil"
)

// buildSegmentTemplate resolves SegmentTemplate addressing: URL strings
// with substitution tokens, combined with either an explicit
// SegmentTimeline or an implicit numbering scheme.
func buildSegmentTemplate(pc *periodContext, rep *frame, info *segmentInfo, cfg *Config) (*indexPlan, error) {
	if info.mediaTemplate == "" {
		return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
			"SegmentTemplate for representation %q has no media template", rep.id)
	}
	init := templateInitReference(rep, info)

	var refs []*manifest.SegmentReference
	var err error
	if info.timeline != nil {
		refs, err = templateTimelineRefs(pc, rep, info, init)
	} else {
		refs, err = templateNumberingRefs(pc, rep, info, init, cfg)
	}
	if err != nil {
		return nil, err
	}
	return &indexPlan{
		init: init,
		factory: func() (manifest.SegmentIndex, error) {
			return manifest.NewReferences(refs), nil
		},
	}, nil
}

// templateInitReference expands the initialization template, which only
// substitutes $RepresentationID$ and $Bandwidth$.
func templateInitReference(rep *frame, info *segmentInfo) *manifest.InitSegmentReference {
	if info.initTemplate == "" {
		return resolveInitialization(info, rep.baseURIs, rep.mimeType, rep.codecs)
	}
	uri := xmlutil.FillTemplate(info.initTemplate, xmlutil.TemplateVars{
		RepresentationID: &rep.id,
		Bandwidth:        &rep.bandwidth,
	})
	return &manifest.InitSegmentReference{
		URIs:     xmlutil.ResolveURIs(rep.baseURIs, uri),
		MimeType: rep.mimeType,
		Codecs:   rep.codecs,
	}
}

// templateTimelineRefs builds references from an explicit SegmentTimeline.
func templateTimelineRefs(pc *periodContext, rep *frame, info *segmentInfo, init *manifest.InitSegmentReference) ([]*manifest.SegmentReference, error) {
	periodStart, periodEnd := pc.start, pc.end()
	tsOffset := periodStart - info.presentationTimeOffset
	hasSubNumber := strings.Contains(info.mediaTemplate, "$SubNumber$")

	refs := make([]*manifest.SegmentReference, 0, len(info.timeline))
	for i, e := range info.timeline {
		number := info.startNumber + int64(i)
		t := e.unscaledStart
		uri := xmlutil.FillTemplate(info.mediaTemplate, xmlutil.TemplateVars{
			RepresentationID: &rep.id,
			Bandwidth:        &rep.bandwidth,
			Number:           &number,
			Time:             &t,
		})
		ref := &manifest.SegmentReference{
			StartTime:         periodStart + e.start,
			EndTime:           periodStart + e.end,
			URIs:              xmlutil.ResolveURIs(rep.baseURIs, uri),
			Init:              init,
			TimestampOffset:   tsOffset,
			AppendWindowStart: periodStart,
			AppendWindowEnd:   periodEnd,
		}
		if e.partialCount > 1 && hasSubNumber {
			ref.Partial = partialRefs(rep, info, e, number, periodStart)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// partialRefs splits one timeline entry into k independently addressable
// partial references. The segment-sequence cadence marks every Nth
// partial as starting on a non-predicted frame.
func partialRefs(rep *frame, info *segmentInfo, e timelineEntry, number int64, periodStart float64) []manifest.PartialSegmentReference {
	k := e.partialCount
	dur := (e.end - e.start) / float64(k)
	cadence := rep.segmentSequenceCadence
	t := e.unscaledStart

	out := make([]manifest.PartialSegmentReference, 0, k)
	for i := 0; i < k; i++ {
		sub := int64(i + 1)
		uri := xmlutil.FillTemplate(info.mediaTemplate, xmlutil.TemplateVars{
			RepresentationID: &rep.id,
			Bandwidth:        &rep.bandwidth,
			Number:           &number,
			SubNumber:        &sub,
			Time:             &t,
		})
		independent := i == 0
		if cadence > 0 {
			independent = i%cadence == 0
		}
		out = append(out, manifest.PartialSegmentReference{
			StartTime:   periodStart + e.start + float64(i)*dur,
			EndTime:     periodStart + e.start + float64(i+1)*dur,
			URIs:        xmlutil.ResolveURIs(rep.baseURIs, uri),
			Independent: independent,
		})
	}
	return out
}

// templateNumberingRefs builds references from the implicit numbering
// scheme: startNumber plus a fixed duration, extended to the live edge
// for dynamic manifests or truncated at a caller-supplied last segment
// number.
func templateNumberingRefs(pc *periodContext, rep *frame, info *segmentInfo, init *manifest.InitSegmentReference, cfg *Config) ([]*manifest.SegmentReference, error) {
	if info.segmentDuration <= 0 {
		return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
			"SegmentTemplate for representation %q needs a duration or a timeline", rep.id)
	}
	periodStart, periodEnd := pc.start, pc.end()
	tsOffset := periodStart - info.presentationTimeOffset
	d := info.segmentDuration

	// Positions are zero-based relative to startNumber.
	firstPos := int64(0)
	var lastPos int64
	if pc.dynamic {
		nowRel := pc.now.Sub(pc.availabilityStart).Seconds()
		windowStart := nowRel - pc.timeShiftBufferDepth
		if windowStart < 0 {
			windowStart = 0
		}
		if end := pc.end(); windowStart > end {
			windowStart = end
		}
		if windowStart > periodStart {
			firstPos = int64((windowStart - periodStart) / d)
		}
		liveEdge := nowRel - info.availabilityTimeOffset
		lastPos = int64(math.Ceil((liveEdge-periodStart)/d)) - 1
		if pc.duration > 0 {
			// A bounded period can end before the live edge.
			if maxPos := int64(math.Ceil((periodEnd-periodStart)/d)) - 1; maxPos < lastPos {
				lastPos = maxPos
			}
		}
	} else {
		span := periodEnd - periodStart
		if span <= 0 {
			return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
				"static SegmentTemplate for representation %q has an unbounded period", rep.id)
		}
		lastPos = int64(math.Ceil(span/d)) - 1
	}

	if lastNumber, ok := cfg.LastSegmentNumber[rep.id]; ok && lastNumber > 0 {
		if limit := lastNumber - info.startNumber; limit < lastPos {
			lastPos = limit
		}
	}
	if lastPos < firstPos {
		return []*manifest.SegmentReference{}, nil
	}

	refs := make([]*manifest.SegmentReference, 0, lastPos-firstPos+1)
	for pos := firstPos; pos <= lastPos; pos++ {
		number := info.startNumber + pos
		start := periodStart + float64(pos)*d
		end := start + d
		if pc.duration > 0 && end > periodEnd {
			end = periodEnd
		}
		t := info.ptoUnits + pos*info.segmentDurationUnits
		uri := xmlutil.FillTemplate(info.mediaTemplate, xmlutil.TemplateVars{
			RepresentationID: &rep.id,
			Bandwidth:        &rep.bandwidth,
			Number:           &number,
			Time:             &t,
		})
		refs = append(refs, &manifest.SegmentReference{
			StartTime:         start,
			EndTime:           end,
			URIs:              xmlutil.ResolveURIs(rep.baseURIs, uri),
			Init:              init,
			TimestampOffset:   tsOffset,
			AppendWindowStart: periodStart,
			AppendWindowEnd:   periodEnd,
		})
	}
	return refs, nil
}
