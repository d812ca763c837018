package dash

import (
	"github.com/beevik/etree"

	"dash-resolver/internal/manifest"
	"dash-resolver/internal/mpderr"
	"dash-resolver/internal/xmlutil"
)

// segmentInfo is the merged view of one addressing chain: every inheritable
// attribute resolved across Representation, AdaptationSet, and Period
// levels into a plain value struct.
type segmentInfo struct {
	timescale              int64
	presentationTimeOffset float64 // seconds
	ptoUnits               int64   // raw timescale units, for $Time$ math
	startNumber            int64
	segmentDuration        float64 // seconds; 0 when absent
	segmentDurationUnits   int64
	timeline               []timelineEntry
	mediaTemplate          string
	initTemplate           string
	indexRangeStart        int64
	indexRangeEnd          *int64
	hasIndexRange          bool
	initialization         *etree.Element
	availabilityTimeOffset float64
}

// timelineEntry is one expanded SegmentTimeline interval. Times are in
// seconds relative to the period start (presentationTimeOffset already
// subtracted); unscaledStart keeps the raw media time for $Time$.
type timelineEntry struct {
	start         float64
	end           float64
	unscaledStart int64
	partialCount  int // S@k; 0 or 1 means no subdivision
}

// parseSegmentInfo merges the attributes visible through the addressing
// chain. Malformed arithmetic facts (zero timescale, negative duration)
// are critical for the enclosing representation.
func parseSegmentInfo(chain []*etree.Element, pc *periodContext) (*segmentInfo, error) {
	info := &segmentInfo{timescale: 1, startNumber: 1}

	if v := inheritAttr(chain, "timescale"); v != "" {
		ts, ok := xmlutil.ParseNonNegativeInt(v)
		if !ok || ts == 0 {
			return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML, "invalid timescale %q", v)
		}
		info.timescale = ts
	}
	if v := inheritAttr(chain, "presentationTimeOffset"); v != "" {
		pto, ok := xmlutil.ParseNonNegativeInt(v)
		if !ok {
			return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML, "invalid presentationTimeOffset %q", v)
		}
		info.ptoUnits = pto
		info.presentationTimeOffset = float64(pto) / float64(info.timescale)
	}
	if v := inheritAttr(chain, "startNumber"); v != "" {
		if sn, ok := xmlutil.ParseNonNegativeInt(v); ok {
			info.startNumber = sn
		}
	}
	if v := inheritAttr(chain, "duration"); v != "" {
		d, ok := xmlutil.ParseNonNegativeInt(v)
		if !ok {
			return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML, "invalid segment duration %q", v)
		}
		info.segmentDurationUnits = d
		info.segmentDuration = float64(d) / float64(info.timescale)
	}
	if v := inheritAttr(chain, "availabilityTimeOffset"); v != "" {
		if off, ok := xmlutil.ParseFloat(v); ok {
			info.availabilityTimeOffset = off
		}
	}
	if v := inheritAttr(chain, "indexRange"); v != "" {
		first, last, ok := xmlutil.ParseRange(v)
		if !ok {
			return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML, "invalid indexRange %q", v)
		}
		info.indexRangeStart, info.indexRangeEnd, info.hasIndexRange = first, last, true
	}
	info.mediaTemplate = inheritAttr(chain, "media")
	info.initTemplate = inheritAttr(chain, "initialization")
	info.initialization = inheritChild(chain, "Initialization")

	if tl := inheritChild(chain, "SegmentTimeline"); tl != nil {
		entries, err := expandTimeline(tl, info.timescale, info.ptoUnits, pc)
		if err != nil {
			return nil, err
		}
		info.timeline = entries
	}
	return info, nil
}

// expandTimeline turns the S children of a SegmentTimeline into concrete
// intervals. A repeat count r duplicates the preceding entry r more times
// at increasing offsets; r = -1 repeats until the next entry's start time
// or the period end.
func expandTimeline(tl *etree.Element, timescale, ptoUnits int64, pc *periodContext) ([]timelineEntry, error) {
	sElems := xmlutil.Children(tl, "S")
	var out []timelineEntry
	var current int64
	periodSpan := pc.end() - pc.start

	for i, s := range sElems {
		if v := xmlutil.AttrValue(s, "t"); v != "" {
			t, ok := xmlutil.ParseNonNegativeInt(v)
			if !ok {
				return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML, "invalid S@t %q", v)
			}
			current = t
		}
		dv := xmlutil.AttrValue(s, "d")
		d, ok := xmlutil.ParseNonNegativeInt(dv)
		if !ok || d == 0 {
			return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML, "invalid S@d %q", dv)
		}
		repeat := int64(0)
		if v := xmlutil.AttrValue(s, "r"); v != "" {
			r, ok := xmlutil.ParseInt(v)
			if !ok || r < -1 {
				return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML, "invalid S@r %q", v)
			}
			repeat = r
		}
		partials := 0
		if v := xmlutil.AttrValue(s, "k"); v != "" {
			if k, ok := xmlutil.ParseNonNegativeInt(v); ok {
				partials = int(k)
			}
		}

		if repeat == -1 {
			// Open repeat: fill until the next S@t, or the period end.
			var until int64
			if i+1 < len(sElems) {
				next := xmlutil.AttrValue(sElems[i+1], "t")
				nt, ok := xmlutil.ParseNonNegativeInt(next)
				if !ok {
					return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
						"S@r=-1 requires the next S to declare @t")
				}
				until = nt
			} else {
				if periodSpan <= 0 {
					return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
						"S@r=-1 on the last entry requires a bounded period")
				}
				until = ptoUnits + int64(periodSpan*float64(timescale))
			}
			repeat = (until - current) / d
			if (until-current)%d != 0 {
				repeat++
			}
			repeat-- // the first occurrence is not a repeat
			if repeat < 0 {
				repeat = 0
			}
		}

		for j := int64(0); j <= repeat; j++ {
			start := float64(current-ptoUnits) / float64(timescale)
			end := float64(current+d-ptoUnits) / float64(timescale)
			out = append(out, timelineEntry{
				start:         start,
				end:           end,
				unscaledStart: current,
				partialCount:  partials,
			})
			current += d
		}
	}
	return out, nil
}

// resolveInitialization reads an Initialization child (SegmentBase /
// SegmentList form) into an init-segment reference.
func resolveInitialization(info *segmentInfo, baseURIs []string, mimeType, codecs string) *manifest.InitSegmentReference {
	if info.initialization == nil {
		return nil
	}
	uris := baseURIs
	if src := xmlutil.AttrValue(info.initialization, "sourceURL"); src != "" {
		uris = xmlutil.ResolveURIs(baseURIs, src)
	}
	ref := &manifest.InitSegmentReference{URIs: uris, MimeType: mimeType, Codecs: codecs}
	if r := xmlutil.AttrValue(info.initialization, "range"); r != "" {
		if first, last, ok := xmlutil.ParseRange(r); ok {
			ref.StartByte, ref.EndByte = first, last
		}
	}
	return ref
}
