package dash

import (
	"github.com/beevik/etree"

	"dash-resolver/internal/manifest"
	"dash-resolver/internal/mpderr"
	"dash-resolver/internal/xmlutil"
)

// buildSegmentList resolves SegmentList addressing: an explicit ordered
// list of SegmentURL entries. With a SegmentTimeline child the entries
// pair 1:1 with timeline intervals in document order; otherwise a constant
// duration attribute spaces them.
func buildSegmentList(pc *periodContext, rep *frame, chain []*etree.Element, info *segmentInfo, cfg *Config) (*indexPlan, error) {
	init := resolveInitialization(info, rep.baseURIs, rep.mimeType, rep.codecs)

	// SegmentURL entries come from the most specific SegmentList element;
	// attributes inherit along the chain but the URL list does not merge.
	var urls []*etree.Element
	for _, el := range chain {
		if list := xmlutil.Children(el, "SegmentURL"); len(list) > 0 {
			urls = list
			break
		}
	}
	if len(urls) == 0 {
		return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
			"SegmentList for representation %q has no SegmentURL entries", rep.id)
	}
	if info.timeline == nil && info.segmentDuration == 0 {
		return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
			"SegmentList for representation %q has neither a timeline nor a duration", rep.id)
	}
	if info.timeline != nil && len(info.timeline) != len(urls) {
		return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
			"SegmentList timeline has %d entries for %d SegmentURLs", len(info.timeline), len(urls))
	}

	periodStart, periodEnd := pc.start, pc.end()
	tsOffset := periodStart - info.presentationTimeOffset

	refs := make([]*manifest.SegmentReference, 0, len(urls))
	for i, u := range urls {
		var start, end float64
		if info.timeline != nil {
			start = periodStart + info.timeline[i].start
			end = periodStart + info.timeline[i].end
		} else {
			start = periodStart + float64(i)*info.segmentDuration
			end = start + info.segmentDuration
		}
		ref := &manifest.SegmentReference{
			StartTime:         start,
			EndTime:           end,
			URIs:              rep.baseURIs,
			Init:              init,
			TimestampOffset:   tsOffset,
			AppendWindowStart: periodStart,
			AppendWindowEnd:   periodEnd,
		}
		if media := xmlutil.AttrValue(u, "media"); media != "" {
			ref.URIs = xmlutil.ResolveURIs(rep.baseURIs, media)
		}
		if r := xmlutil.AttrValue(u, "mediaRange"); r != "" {
			first, last, ok := xmlutil.ParseRange(r)
			if !ok {
				return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML, "invalid mediaRange %q", r)
			}
			ref.StartByte, ref.EndByte = first, last
		}
		refs = append(refs, ref)
	}

	return &indexPlan{
		init: init,
		factory: func() (manifest.SegmentIndex, error) {
			return manifest.NewReferences(refs), nil
		},
	}, nil
}
