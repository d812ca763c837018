package dash

import (
	"math"
	"sync"
	"time"

	"github.com/beevik/etree"

	"dash-resolver/internal/manifest"
	"dash-resolver/internal/mpderr"
	"dash-resolver/internal/xmlutil"
)

// timeTolerance absorbs floating-point jitter when correlating period
// boundaries and segment times between parses.
const timeTolerance = 1.0 / 15

// Parser resolves MPD documents into the manifest model. One Parser
// instance tracks one presentation: for dynamic manifests, calling Parse
// again with a newer document merges segment references into the existing
// streams instead of rebuilding them, so in-flight playback is not
// disrupted. Parsers are not safe for concurrent Parse calls; resolve
// different manifests with different Parser instances.
type Parser struct {
	cfg Config
	asm *assembler

	man    *manifest.Manifest
	states map[streamKey]*streamState
	order  []streamKey

	video []*manifest.Stream
	audio []*manifest.Stream
	text  []*manifest.Stream
	image []*manifest.Stream
}

// streamKey identifies a stream across re-parses. The ordinal
// disambiguates duplicate representation ids, which static manifests
// tolerate.
type streamKey struct {
	typ        manifest.StreamType
	originalID string
	ordinal    int
}

// periodPlan is one period's addressing resolution for a stream.
type periodPlan struct {
	periodID string
	start    float64
	end      float64
	plan     *indexPlan
}

// streamState tracks the per-period index plans behind one canonical
// stream and the materialized indexes once playback asks for them.
type streamState struct {
	mu       sync.Mutex
	stream   *manifest.Stream
	plans    []periodPlan
	meta     *manifest.MetaSegmentIndex
	subs     map[string]*manifest.References
	prevLast *manifest.SegmentReference
	created  bool
}

// New returns a Parser with the given configuration.
func New(cfg Config) *Parser {
	p := &Parser{
		cfg:    cfg,
		states: make(map[streamKey]*streamState),
	}
	p.asm = &assembler{cfg: &p.cfg}
	return p
}

// Parse resolves an MPD document. The first call builds the manifest;
// later calls on the same Parser perform an incremental re-resolution,
// mutating only segment indexes of streams whose identity (original
// representation id) is unchanged.
func (p *Parser) Parse(data []byte, uri string) (*manifest.Manifest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
			"cannot parse manifest: %v", err).WithURI(uri)
	}
	root := doc.Root()
	if root == nil || root.Tag != "MPD" {
		return nil, mpderr.CriticalManifest(mpderr.CodeInvalidXML,
			"document root is not an MPD element").WithURI(uri)
	}
	if p.cfg.Preprocessor != nil {
		p.cfg.Preprocessor(root)
	}
	if err := rejectOnRequestXlink(root, uri); err != nil {
		return nil, err
	}

	tl, err := p.parseTimeline(root)
	if err != nil {
		return nil, err
	}

	baseURIs := p.resolveBaseURIs(root, uri)

	periods, truncated := resolvePeriods(root, tl.Duration)
	if len(periods) == 0 {
		return nil, mpderr.CriticalManifest(mpderr.CodeEmptyPeriod,
			"manifest has no periods").WithURI(uri)
	}
	if truncated > 0 {
		p.cfg.log().Warn("discarding periods after one without a resolvable duration",
			"discarded", truncated)
	}

	now := p.cfg.now().Add(time.Duration(tl.ClockOffset * float64(time.Second)))
	gaps := 0
	for i, pd := range periods {
		if i > 0 {
			prev := periods[i-1]
			if prev.duration > 0 && math.Abs(prev.start+prev.duration-pd.start) > timeTolerance {
				gaps++
			}
		}
		pc := &periodContext{
			dynamic:              tl.Type == manifest.Dynamic,
			periodID:             pd.id,
			start:                pd.start,
			duration:             pd.duration,
			presentationDuration: tl.Duration,
			availabilityStart:    tl.AvailabilityStart,
			timeShiftBufferDepth: tl.TimeShiftBufferDepth,
			maxSegmentDuration:   tl.MaxSegmentDuration,
			now:                  now,
		}
		periodFrame := newFrame(pd.el, nil, baseURIs)
		ps, err := p.asm.assemblePeriod(pc, pd.el, periodFrame)
		if err != nil {
			return nil, err
		}
		p.absorbPeriod(pd, pc, ps)
	}

	variants, err := buildVariants(p.video, p.audio)
	if err != nil {
		return nil, err
	}

	if p.man == nil {
		p.man = &manifest.Manifest{}
	}
	p.man.Timeline = *tl
	p.man.Variants = variants
	p.man.TextStreams = p.text
	p.man.ImageStreams = p.image
	p.man.PeriodCount = len(periods)
	p.man.GapCount = gaps

	if tl.Type == manifest.Dynamic {
		p.evictExpired(tl, now)
	}
	return p.man, nil
}

// parseTimeline reads the MPD-level timing attributes, applying the
// configured overrides.
func (p *Parser) parseTimeline(root *etree.Element) (*manifest.Timeline, error) {
	tl := &manifest.Timeline{Type: manifest.Static}
	if xmlutil.AttrValue(root, "type") == "dynamic" {
		tl.Type = manifest.Dynamic
	}
	if v := xmlutil.AttrValue(root, "mediaPresentationDuration"); v != "" {
		if d, ok := xmlutil.ParseDuration(v); ok {
			tl.Duration = d
		}
	}
	if v := xmlutil.AttrValue(root, "availabilityStartTime"); v != "" {
		if t, ok := xmlutil.ParseDate(v); ok {
			tl.AvailabilityStart = t
		}
	}
	if v := xmlutil.AttrValue(root, "timeShiftBufferDepth"); v != "" {
		if d, ok := xmlutil.ParseDuration(v); ok {
			tl.TimeShiftBufferDepth = d
		}
	}
	if v := xmlutil.AttrValue(root, "minimumUpdatePeriod"); v != "" {
		if d, ok := xmlutil.ParseDuration(v); ok {
			tl.MinUpdatePeriod = d
		}
	}
	if !p.cfg.IgnoreMaxSegmentDuration {
		if v := xmlutil.AttrValue(root, "maxSegmentDuration"); v != "" {
			if d, ok := xmlutil.ParseDuration(v); ok {
				tl.MaxSegmentDuration = d
			}
		}
	}
	if !p.cfg.IgnoreMinBufferTime {
		if v := xmlutil.AttrValue(root, "minBufferTime"); v != "" {
			if d, ok := xmlutil.ParseDuration(v); ok {
				tl.MinBufferTime = d
			}
		}
	}
	tl.PresentationDelay = p.cfg.DefaultPresentationDelay
	if !p.cfg.IgnoreSuggestedPresentationDelay {
		if v := xmlutil.AttrValue(root, "suggestedPresentationDelay"); v != "" {
			if d, ok := xmlutil.ParseDuration(v); ok {
				tl.PresentationDelay = d
			}
		}
	}

	if tl.Type == manifest.Dynamic && p.cfg.Clock != nil {
		var schemes []UTCTiming
		for _, el := range xmlutil.Children(root, "UTCTiming") {
			schemes = append(schemes, UTCTiming{
				SchemeIDURI: xmlutil.AttrValue(el, "schemeIdUri"),
				Value:       xmlutil.AttrValue(el, "value"),
			})
		}
		if len(schemes) > 0 {
			offset, err := p.cfg.Clock.Offset(schemes)
			if err != nil {
				p.cfg.log().Warn("clock sync failed, using local time", "error", err.Error())
			} else {
				tl.ClockOffset = offset.Seconds()
			}
		}
	}
	return tl, nil
}

// resolveBaseURIs collects the MPD-level BaseURL alternates, lets the
// content-steering prioritizer reorder them, and resolves them against
// the manifest URI.
func (p *Parser) resolveBaseURIs(root *etree.Element, uri string) []string {
	bases := collectBaseURLs(root)
	if p.cfg.Prioritizer != nil && len(bases) > 0 {
		var steering *SteeringInfo
		if el := xmlutil.Child(root, "ContentSteering"); el != nil {
			steering = &SteeringInfo{
				ServerURI:              xmlutil.Text(el),
				DefaultServiceLocation: xmlutil.AttrValue(el, "defaultServiceLocation"),
				QueryBeforeStart:       xmlutil.AttrValue(el, "queryBeforeStart") == "true",
			}
		}
		bases = p.cfg.Prioritizer.Prioritize(steering, bases)
	}
	if len(bases) == 0 {
		if uri == "" {
			return nil
		}
		return []string{uri}
	}
	out := make([]string, 0, len(bases))
	for _, b := range bases {
		root := []string{b.URI}
		if uri != "" {
			root = xmlutil.ResolveURIs([]string{uri}, b.URI)
		}
		out = append(out, root...)
	}
	return out
}

// rejectOnRequestXlink refuses manifests that still contain on-request
// XLink references; inlining remote elements is a pre-processing step
// that must happen before this core runs.
func rejectOnRequestXlink(root *etree.Element, uri string) error {
	var walk func(el *etree.Element) error
	walk = func(el *etree.Element) error {
		for _, a := range el.Attr {
			if a.Space == "xlink" && a.Key == "actuate" && a.Value == "onRequest" {
				return mpderr.CriticalManifest(mpderr.CodeUnsupportedXlinkActuate,
					"xlink:actuate=onRequest is not supported").WithURI(uri)
			}
		}
		for _, c := range el.ChildElements() {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}

// periodDoc is one Period element with its resolved timing.
type periodDoc struct {
	el       *etree.Element
	id       string
	start    float64
	duration float64 // 0 = open-ended
}

// resolvePeriods back-fills missing Period start/duration attributes:
// start defaults to the previous period's end, duration to the gap until
// the next period's explicit start, or to the remaining presentation
// duration for the last period. Periods after the first one without a
// resolvable duration are discarded; their start cannot be computed
// reliably. The second return value counts the discarded periods.
func resolvePeriods(root *etree.Element, presentationDuration float64) ([]periodDoc, int) {
	els := xmlutil.Children(root, "Period")
	var out []periodDoc
	prevEnd := 0.0
	for i, el := range els {
		pd := periodDoc{el: el, id: xmlutil.AttrValue(el, "id")}
		pd.start = prevEnd
		if v := xmlutil.AttrValue(el, "start"); v != "" {
			if d, ok := xmlutil.ParseDuration(v); ok {
				pd.start = d
			}
		}
		hasDuration := false
		if v := xmlutil.AttrValue(el, "duration"); v != "" {
			if d, ok := xmlutil.ParseDuration(v); ok {
				pd.duration = d
				hasDuration = true
			}
		}
		if !hasDuration && i+1 < len(els) {
			if v := xmlutil.AttrValue(els[i+1], "start"); v != "" {
				if next, ok := xmlutil.ParseDuration(v); ok && next > pd.start {
					pd.duration = next - pd.start
					hasDuration = true
				}
			}
		}
		if !hasDuration && i == len(els)-1 && presentationDuration > pd.start {
			pd.duration = presentationDuration - pd.start
			hasDuration = true
		}
		out = append(out, pd)
		if !hasDuration {
			return out, len(els) - i - 1
		}
		prevEnd = pd.start + pd.duration
	}
	return out, 0
}

// absorbPeriod merges one period's assembled streams into the canonical
// stream set, preserving stream identity across re-parses.
func (p *Parser) absorbPeriod(pd periodDoc, pc *periodContext, ps *periodStreams) {
	ordinals := make(map[streamKey]int)
	for _, s := range ps.all() {
		base := streamKey{typ: s.Type, originalID: s.OriginalID}
		base.ordinal = ordinals[base]
		ordinals[streamKey{typ: s.Type, originalID: s.OriginalID}]++

		pp := periodPlan{
			periodID: pd.id,
			start:    pc.start,
			end:      pc.end(),
			plan:     ps.plans[s.ID],
		}

		state, ok := p.states[base]
		if !ok {
			state = &streamState{
				stream: s,
				subs:   make(map[string]*manifest.References),
			}
			p.states[base] = state
			p.order = append(p.order, base)
			s.SetIndexFactory(state.materialize)
			p.register(s, ps)
		}
		state.addPlan(pp)
	}
}

// register places a newly seen canonical stream into its category list.
func (p *Parser) register(s *manifest.Stream, ps *periodStreams) {
	for _, t := range ps.trick {
		if t == s {
			return
		}
	}
	switch s.Type {
	case manifest.TypeVideo:
		p.video = append(p.video, s)
	case manifest.TypeAudio:
		p.audio = append(p.audio, s)
	case manifest.TypeText:
		p.text = append(p.text, s)
	case manifest.TypeImage:
		p.image = append(p.image, s)
	}
}

// evictExpired drops references that have slid behind the availability
// window of a dynamic presentation.
func (p *Parser) evictExpired(tl *manifest.Timeline, now time.Time) {
	if tl.TimeShiftBufferDepth <= 0 {
		return
	}
	windowStart := now.Sub(tl.AvailabilityStart).Seconds() - tl.TimeShiftBufferDepth
	if windowStart <= 0 {
		return
	}
	for _, key := range p.order {
		st := p.states[key]
		st.mu.Lock()
		if st.created {
			st.meta.EvictBefore(windowStart)
		}
		st.mu.Unlock()
	}
}

// addPlan records a period plan, merging with an existing plan for the
// same period on re-parse.
func (st *streamState) addPlan(pp periodPlan) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.plans {
		if st.plans[i].periodID == pp.periodID {
			st.plans[i] = pp
			if st.created {
				if sub, ok := st.subs[pp.periodID]; ok {
					if refs, err := materializeRefs(pp.plan); err == nil {
						sub.Merge(refs)
						if len(refs) > 0 {
							st.prevLast = refs[len(refs)-1]
						}
					}
				}
			}
			return
		}
	}

	st.plans = append(st.plans, pp)
	if st.created {
		// The index is already live; mount the new period immediately.
		refs, err := materializeRefs(pp.plan)
		if err != nil {
			return
		}
		sub := manifest.NewReferences(refs)
		st.subs[pp.periodID] = sub
		st.meta.Append(sub, pp.start, pp.end, contiguous(st.prevLast, firstRef(refs)))
		if len(refs) > 0 {
			st.prevLast = refs[len(refs)-1]
		}
	}
}

// materialize builds the stream's meta-index on first use, mounting every
// period plan in order with continuity-timeline tagging.
func (st *streamState) materialize() (manifest.SegmentIndex, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.created {
		return st.meta, nil
	}
	meta := manifest.NewMetaSegmentIndex()
	for _, pp := range st.plans {
		refs, err := materializeRefs(pp.plan)
		if err != nil {
			return nil, err
		}
		sub := manifest.NewReferences(refs)
		st.subs[pp.periodID] = sub
		meta.Append(sub, pp.start, pp.end, contiguous(st.prevLast, firstRef(refs)))
		if len(refs) > 0 {
			st.prevLast = refs[len(refs)-1]
		}
	}
	st.meta = meta
	st.created = true
	return meta, nil
}

// materializeRefs runs a plan's factory and extracts the flat reference
// list.
func materializeRefs(plan *indexPlan) ([]*manifest.SegmentReference, error) {
	if plan == nil {
		return nil, nil
	}
	idx, err := plan.factory()
	if err != nil {
		return nil, err
	}
	refs := make([]*manifest.SegmentReference, 0, idx.Count())
	idx.Each(func(r *manifest.SegmentReference) bool {
		refs = append(refs, r)
		return true
	})
	return refs, nil
}

func firstRef(refs []*manifest.SegmentReference) *manifest.SegmentReference {
	if len(refs) == 0 {
		return nil
	}
	return refs[0]
}

// contiguous decides whether two adjacent periods continue one encoder
// timeline: the earlier period's last segment must run into the later
// period's first, under the same timestamp-offset arithmetic. When it
// does, the sub-indexes share a continuity id and the playback layer
// skips the re-anchor at that boundary.
func contiguous(prev, next *manifest.SegmentReference) bool {
	if prev == nil || next == nil {
		return false
	}
	if math.Abs(prev.TimestampOffset-next.TimestampOffset) > timeTolerance {
		return false
	}
	return math.Abs(prev.EndTime-next.StartTime) <= timeTolerance
}
