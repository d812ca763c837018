package dash

import (
	"time"

	"github.com/beevik/etree"

	"dash-resolver/internal/manifest"
	"dash-resolver/internal/xmlutil"
)

// periodContext carries the timing facts every builder inside one period
// needs. It is transient parse state; nothing in it escapes the parse.
type periodContext struct {
	dynamic              bool
	periodID             string
	start                float64 // presentation-relative seconds
	duration             float64 // 0 when unknown (open-ended live period)
	presentationDuration float64
	availabilityStart    time.Time
	timeShiftBufferDepth float64
	maxSegmentDuration   float64
	now                  time.Time // wall clock, clock-sync adjusted
}

// end returns the period's end time, or the live edge for an open period.
func (p *periodContext) end() float64 {
	if p.duration > 0 {
		return p.start + p.duration
	}
	if p.dynamic {
		return p.now.Sub(p.availabilityStart).Seconds()
	}
	if p.presentationDuration > 0 {
		return p.presentationDuration
	}
	return 0
}

// addrMode identifies which of the three addressing schemes applies.
type addrMode int

const (
	addrNone addrMode = iota
	addrSegmentBase
	addrSegmentList
	addrSegmentTemplate
)

// frame is one level of the AdaptationSet→Representation inheritance
// hierarchy, flattened into a plain value struct. A child frame starts
// from its parent's resolved values and overrides whatever its own
// element declares.
type frame struct {
	el       *etree.Element
	baseURIs []string

	// Addressing elements declared directly on this level. Inherited
	// elements are reached through the addressing chain, not copied here.
	segmentBase     *etree.Element
	segmentList     *etree.Element
	segmentTemplate *etree.Element

	id                string
	contentType       string
	mimeType          string
	codecs            string
	language          string
	label             string
	width             int
	height            int
	frameRate         float64
	pixelAspectRatio  string
	bandwidth         int64
	audioSamplingRate int

	// segmentSequenceCadence marks every Nth partial segment independent
	// for low-latency streams (0 = no cadence declared).
	segmentSequenceCadence int
}

// newFrame builds the inheritance frame for el on top of parent. parent
// may be nil for the topmost (period) frame.
func newFrame(el *etree.Element, parent *frame, parentBaseURIs []string) *frame {
	f := &frame{el: el}
	if parent != nil {
		f.contentType = parent.contentType
		f.mimeType = parent.mimeType
		f.codecs = parent.codecs
		f.language = parent.language
		f.label = parent.label
		f.width = parent.width
		f.height = parent.height
		f.frameRate = parent.frameRate
		f.pixelAspectRatio = parent.pixelAspectRatio
		f.audioSamplingRate = parent.audioSamplingRate
		f.segmentSequenceCadence = parent.segmentSequenceCadence
	}

	f.baseURIs = extendBaseURIs(parentBaseURIs, el)

	f.segmentBase = xmlutil.Child(el, "SegmentBase")
	f.segmentList = xmlutil.Child(el, "SegmentList")
	f.segmentTemplate = xmlutil.Child(el, "SegmentTemplate")

	f.id = xmlutil.AttrValue(el, "id")
	if v := xmlutil.AttrValue(el, "contentType"); v != "" {
		f.contentType = v
	}
	if v := xmlutil.AttrValue(el, "mimeType"); v != "" {
		f.mimeType = v
	}
	if v := xmlutil.AttrValue(el, "codecs"); v != "" {
		f.codecs = v
	}
	if v := xmlutil.AttrValue(el, "lang"); v != "" {
		f.language = v
	}
	if v := xmlutil.AttrValue(el, "label"); v != "" {
		f.label = v
	}
	if v, ok := xmlutil.ParseNonNegativeInt(xmlutil.AttrValue(el, "width")); ok {
		f.width = int(v)
	}
	if v, ok := xmlutil.ParseNonNegativeInt(xmlutil.AttrValue(el, "height")); ok {
		f.height = int(v)
	}
	if v, ok := xmlutil.ParseFrameRate(xmlutil.AttrValue(el, "frameRate")); ok {
		f.frameRate = v
	}
	if v := xmlutil.AttrValue(el, "sar"); v != "" {
		f.pixelAspectRatio = v
	}
	if v, ok := xmlutil.ParseNonNegativeInt(xmlutil.AttrValue(el, "bandwidth")); ok {
		f.bandwidth = v
	}
	if v, ok := xmlutil.ParseNonNegativeInt(xmlutil.AttrValue(el, "audioSamplingRate")); ok {
		f.audioSamplingRate = int(v)
	}
	return f
}

// extendBaseURIs resolves the element's BaseURL children against the
// parent set, keeping all alternates.
func extendBaseURIs(parent []string, el *etree.Element) []string {
	urls := xmlutil.Children(el, "BaseURL")
	if len(urls) == 0 {
		out := make([]string, len(parent))
		copy(out, parent)
		return out
	}
	var out []string
	for _, u := range urls {
		out = append(out, xmlutil.ResolveURIs(parent, xmlutil.Text(u))...)
	}
	return out
}

// collectBaseURLs reads the BaseURL children of el with their
// serviceLocation attributes, for content steering.
func collectBaseURLs(el *etree.Element) []BaseURL {
	var out []BaseURL
	for _, u := range xmlutil.Children(el, "BaseURL") {
		out = append(out, BaseURL{
			URI:             xmlutil.Text(u),
			ServiceLocation: xmlutil.AttrValue(u, "serviceLocation"),
		})
	}
	return out
}

// pickAddressing chooses the addressing mode for a representation and
// returns the inheritance chain (most specific first) of elements of that
// mode. A mode declared directly on the representation wins over anything
// inherited; among inherited modes SegmentBase beats SegmentList beats
// SegmentTemplate.
func pickAddressing(rep, as, period *frame) (addrMode, []*etree.Element) {
	mode := addrNone
	switch {
	case rep.segmentBase != nil:
		mode = addrSegmentBase
	case rep.segmentList != nil:
		mode = addrSegmentList
	case rep.segmentTemplate != nil:
		mode = addrSegmentTemplate
	}
	if mode == addrNone {
		switch {
		case as.segmentBase != nil || (period != nil && period.segmentBase != nil):
			mode = addrSegmentBase
		case as.segmentList != nil || (period != nil && period.segmentList != nil):
			mode = addrSegmentList
		case as.segmentTemplate != nil || (period != nil && period.segmentTemplate != nil):
			mode = addrSegmentTemplate
		}
	}
	if mode == addrNone {
		return addrNone, nil
	}

	pickFrom := func(f *frame) *etree.Element {
		if f == nil {
			return nil
		}
		switch mode {
		case addrSegmentBase:
			return f.segmentBase
		case addrSegmentList:
			return f.segmentList
		case addrSegmentTemplate:
			return f.segmentTemplate
		}
		return nil
	}

	var chain []*etree.Element
	for _, f := range []*frame{rep, as, period} {
		if el := pickFrom(f); el != nil {
			chain = append(chain, el)
		}
	}
	return mode, chain
}

// inheritAttr walks the addressing chain and returns the first declared
// value of the named attribute.
func inheritAttr(chain []*etree.Element, name string) string {
	for _, el := range chain {
		if v := xmlutil.AttrValue(el, name); v != "" {
			return v
		}
	}
	return ""
}

// inheritChild walks the addressing chain and returns the first child
// element with the given local name.
func inheritChild(chain []*etree.Element, local string) *etree.Element {
	for _, el := range chain {
		if c := xmlutil.Child(el, local); c != nil {
			return c
		}
	}
	return nil
}

// inferContentType applies the content-type inference chain: explicit
// AdaptationSet contentType, then mimeType, then codec heuristics. Some
// text codecs ship in an application/mp4 container, so codecs are
// consulted even when a mimeType is present.
func inferContentType(contentType, mimeType, codecs string) manifest.StreamType {
	switch codecForType(codecs) {
	case manifest.TypeText:
		return manifest.TypeText
	}
	if contentType != "" {
		switch contentType {
		case "video":
			return manifest.TypeVideo
		case "audio":
			return manifest.TypeAudio
		case "text":
			return manifest.TypeText
		case "image":
			return manifest.TypeImage
		}
	}
	switch {
	case len(mimeType) >= 6 && mimeType[:6] == "video/":
		return manifest.TypeVideo
	case len(mimeType) >= 6 && mimeType[:6] == "audio/":
		return manifest.TypeAudio
	case len(mimeType) >= 5 && mimeType[:5] == "text/":
		return manifest.TypeText
	case len(mimeType) >= 6 && mimeType[:6] == "image/":
		return manifest.TypeImage
	}
	return ""
}

// codecForType recognizes codec strings that force a content type
// regardless of container mimeType.
func codecForType(codecs string) manifest.StreamType {
	switch {
	case codecs == "stpp" || codecs == "wvtt",
		len(codecs) >= 5 && (codecs[:5] == "stpp." || codecs[:5] == "wvtt."):
		return manifest.TypeText
	}
	return ""
}
