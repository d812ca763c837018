package dash

import (
	"errors"
	"strings"

	"github.com/beevik/etree"

	"dash-resolver/internal/manifest"
	"dash-resolver/internal/mpderr"
	"dash-resolver/internal/xmlutil"
)

// Descriptor scheme URNs recognized by the assembler. The
// adaptation-set-switching signal accumulated several near-duplicate URNs
// over the years; all are treated as synonyms.
var switchingSchemes = map[string]bool{
	"urn:mpeg:dash:adaptation-set-switching:2016":         true,
	"http://dashif.org/guidelines/adaptationsetswitching": true,
	"http://dashif.org/descriptor/adaptationsetswitching": true,
}

const (
	trickModeScheme = "http://dashif.org/guidelines/trickmode"
	ssrScheme       = "urn:mpeg:dash:ssr:2023"
	roleScheme      = "urn:mpeg:dash:role:2011"
)

// adaptationSet is the transient, parse-scope view of one AdaptationSet:
// its inheritance frame, descriptor-derived links, and the streams built
// from its representations.
type adaptationSet struct {
	frame       *frame
	id          string
	contentType manifest.StreamType
	language    string
	primary     bool
	roles       []string

	// switchingIDs lists peer AdaptationSet ids this set can switch with.
	switchingIDs []string
	// trickModeFor lists the AdaptationSet ids this set is a trick-mode
	// rendition of. Non-empty means the set holds no main-path streams.
	trickModeFor []string

	streams []*manifest.Stream
	// dependencyIDs maps stream ID to the representation id it enhances.
	dependencyIDs map[int]string
}

// assembler builds the per-period stream sets. It owns the global stream
// ID counter so stream identity is stable across periods of one parse.
type assembler struct {
	cfg    *Config
	nextID int
	// plans collects the index plan of every stream built during the
	// current assemblePeriod call, keyed by stream ID.
	plans map[int]*indexPlan
}

// periodStreams is one period's assembled output, categorized by type.
// trick holds trick-mode streams, which surface only through
// TrickModeVideo links but still need their indexes stitched.
type periodStreams struct {
	video []*manifest.Stream
	audio []*manifest.Stream
	text  []*manifest.Stream
	image []*manifest.Stream
	trick []*manifest.Stream
	// plans maps stream ID to its addressing resolution.
	plans map[int]*indexPlan
}

func (p *periodStreams) all() []*manifest.Stream {
	out := make([]*manifest.Stream, 0,
		len(p.video)+len(p.audio)+len(p.text)+len(p.image)+len(p.trick))
	out = append(out, p.video...)
	out = append(out, p.audio...)
	out = append(out, p.text...)
	out = append(out, p.image...)
	out = append(out, p.trick...)
	return out
}

// assemblePeriod resolves one Period element into categorized streams.
func (a *assembler) assemblePeriod(pc *periodContext, periodEl *etree.Element, periodFrame *frame) (*periodStreams, error) {
	a.plans = make(map[int]*indexPlan)
	asElems := xmlutil.Children(periodEl, "AdaptationSet")
	if len(asElems) == 0 {
		return nil, mpderr.CriticalManifest(mpderr.CodeEmptyPeriod,
			"period %q has no adaptation sets", pc.periodID)
	}

	sets := make([]*adaptationSet, 0, len(asElems))
	for _, el := range asElems {
		set, err := a.parseAdaptationSet(pc, el, periodFrame)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}

	sets = squashAdaptationSets(sets)

	if err := checkDuplicateIDs(sets, pc); err != nil {
		return nil, err
	}

	linkDependencies(sets)
	if a.cfg.DisableIFrames {
		sets = dropTrickMode(sets)
	} else {
		linkTrickMode(sets)
	}

	out := &periodStreams{plans: a.plans}
	usable := 0
	for _, set := range sets {
		if len(set.trickModeFor) > 0 {
			// Trick-mode streams surface only through TrickModeVideo links.
			out.trick = append(out.trick, set.streams...)
			continue
		}
		for _, s := range set.streams {
			usable++
			switch s.Type {
			case manifest.TypeVideo:
				if !a.cfg.DisableVideo {
					out.video = append(out.video, s)
				}
			case manifest.TypeAudio:
				if !a.cfg.DisableAudio {
					out.audio = append(out.audio, s)
				}
			case manifest.TypeText:
				if !a.cfg.DisableText {
					out.text = append(out.text, s)
				}
			case manifest.TypeImage:
				if !a.cfg.DisableIFrames {
					out.image = append(out.image, s)
				}
			}
		}
	}
	if usable == 0 {
		return nil, mpderr.CriticalManifest(mpderr.CodeEmptyPeriod,
			"period %q has no usable streams", pc.periodID)
	}
	return out, nil
}

// parseAdaptationSet resolves one AdaptationSet element: descriptors,
// content protection, and one stream per usable representation.
func (a *assembler) parseAdaptationSet(pc *periodContext, el *etree.Element, periodFrame *frame) (*adaptationSet, error) {
	asFrame := newFrame(el, nil, periodFrame.baseURIs)
	set := &adaptationSet{
		frame:         asFrame,
		id:            asFrame.id,
		language:      asFrame.language,
		dependencyIDs: make(map[int]string),
	}

	for _, role := range xmlutil.Children(el, "Role") {
		if v := xmlutil.AttrValue(role, "value"); v != "" {
			set.roles = append(set.roles, v)
			if v == "main" {
				set.primary = true
			}
		}
	}
	for _, acc := range xmlutil.Children(el, "Accessibility") {
		if v := xmlutil.AttrValue(acc, "value"); v != "" {
			set.roles = append(set.roles, v)
		}
	}

	props := append(xmlutil.Children(el, "EssentialProperty"),
		xmlutil.Children(el, "SupplementalProperty")...)
	for _, p := range props {
		scheme := strings.ToLower(xmlutil.AttrValue(p, "schemeIdUri"))
		value := xmlutil.AttrValue(p, "value")
		switch {
		case switchingSchemes[scheme]:
			set.switchingIDs = append(set.switchingIDs, xmlutil.SplitList(value)...)
		case scheme == trickModeScheme:
			set.trickModeFor = append(set.trickModeFor, xmlutil.SplitList(value)...)
		case scheme == ssrScheme:
			if n, ok := xmlutil.ParseNonNegativeInt(value); ok {
				asFrame.segmentSequenceCadence = int(n)
			}
		}
	}

	asProtection, err := aggregateProtection(xmlutil.Children(el, "ContentProtection"), a.cfg)
	if err != nil {
		return nil, err
	}

	repElems := xmlutil.Children(el, "Representation")
	for _, repEl := range repElems {
		stream, depID, err := a.parseRepresentation(pc, repEl, asFrame, periodFrame, set, asProtection)
		if err != nil {
			var me *mpderr.Error
			if errors.As(err, &me) && !isPeriodFatal(err) {
				// A broken or unsupported representation is dropped; its
				// siblings may still be usable.
				a.cfg.log().Warn("dropping representation",
					"adaptation_set", set.id,
					"error", err.Error())
				continue
			}
			return nil, err
		}
		if stream == nil {
			continue
		}
		set.streams = append(set.streams, stream)
		if depID != "" {
			set.dependencyIDs[stream.ID] = depID
		}
		if set.contentType == "" {
			set.contentType = stream.Type
		}
	}

	if len(set.streams) == 0 {
		return nil, mpderr.CriticalManifest(mpderr.CodeEmptyAdaptationSet,
			"adaptation set %q has no usable representations", set.id)
	}
	return set, nil
}

// isPeriodFatal reports whether an error must abort the whole period
// rather than just drop the representation that raised it. A variant
// cannot be built over an unresolvable protection scheme, so DRM-merge
// errors are fatal.
func isPeriodFatal(err error) bool {
	return mpderr.IsCode(err, mpderr.CodeConflictingKeyIDs) ||
		mpderr.IsCode(err, mpderr.CodeMultipleKeyIDs) ||
		mpderr.IsCode(err, mpderr.CodeNoCommonKeySystem) ||
		mpderr.IsCode(err, mpderr.CodePsshBadEncoding) ||
		mpderr.IsCode(err, mpderr.CodeEmptyAdaptationSet) ||
		mpderr.IsCode(err, mpderr.CodeEmptyPeriod)
}

// checkContainer rejects media containers the segment pipeline cannot
// index. The errors are recoverable: the representation is dropped and
// its siblings remain usable. Text and image payloads carry no
// container-level index and pass unchecked.
func checkContainer(contentType manifest.StreamType, mimeType string) error {
	if contentType != manifest.TypeVideo && contentType != manifest.TypeAudio {
		return nil
	}
	sub := mimeType
	if i := strings.Index(mimeType, "/"); i >= 0 {
		sub = mimeType[i+1:]
	}
	switch sub {
	case "", "mp4":
		return nil
	case "webm":
		return mpderr.RecoverableManifest(mpderr.CodeWebmSegmentsNotSupported,
			"webm segment indexing is not supported (%s)", mimeType)
	default:
		return mpderr.RecoverableManifest(mpderr.CodeUnsupportedContainer,
			"unsupported container %q", mimeType)
	}
}

// parseRepresentation builds the Stream for one Representation element.
func (a *assembler) parseRepresentation(pc *periodContext, el *etree.Element, asFrame, periodFrame *frame, set *adaptationSet, asProtection *cpAggregate) (*manifest.Stream, string, error) {
	rep := newFrame(el, asFrame, asFrame.baseURIs)

	repProtection, err := aggregateProtection(xmlutil.Children(el, "ContentProtection"), a.cfg)
	if err != nil {
		return nil, "", err
	}
	merged, err := mergeRepresentationProtection(asProtection, repProtection)
	if err != nil {
		return nil, "", err
	}

	contentType := inferContentType(asFrame.contentType, rep.mimeType, rep.codecs)
	if contentType == "" {
		a.cfg.log().Warn("skipping representation with unknown content type",
			"representation", rep.id, "mime_type", rep.mimeType)
		return nil, "", nil
	}
	if err := checkContainer(contentType, rep.mimeType); err != nil {
		return nil, "", err
	}

	plan, err := buildIndexPlan(pc, periodFrame, asFrame, rep, a.cfg)
	if err != nil {
		return nil, "", err
	}

	a.nextID++
	stream := &manifest.Stream{
		ID:               a.nextID,
		OriginalID:       rep.id,
		Type:             contentType,
		MimeType:         rep.mimeType,
		Codecs:           rep.codecs,
		Bandwidth:        rep.bandwidth,
		Width:            rep.width,
		Height:           rep.height,
		FrameRate:        rep.frameRate,
		PixelAspectRatio: rep.pixelAspectRatio,
		Language:         rep.language,
		Label:            rep.label,
		Roles:            set.roles,
		Primary:          set.primary,
	}
	if merged != nil && len(merged.drmInfos) > 0 {
		stream.DrmInfos = merged.drmInfos
		stream.EncryptionScheme = merged.encryptionScheme
		stream.KeyIDs = make(map[string]bool)
		for _, info := range merged.drmInfos {
			for kid := range info.KeyIDs {
				stream.KeyIDs[kid] = true
			}
		}
	}
	a.plans[stream.ID] = plan

	return stream, xmlutil.AttrValue(el, "dependencyId"), nil
}

// squashAdaptationSets merges sets connected by adaptation-set-switching
// descriptors into one logical set, provided they share content type and
// language. Peers listed by an unrecognized id are ignored rather than
// erroring; the descriptor is advisory.
func squashAdaptationSets(sets []*adaptationSet) []*adaptationSet {
	byID := make(map[string]*adaptationSet, len(sets))
	for _, s := range sets {
		if s.id != "" {
			byID[s.id] = s
		}
	}

	merged := make(map[*adaptationSet]*adaptationSet) // member -> group head
	head := func(s *adaptationSet) *adaptationSet {
		for merged[s] != nil && merged[s] != s {
			s = merged[s]
		}
		return s
	}

	for _, s := range sets {
		for _, peerID := range s.switchingIDs {
			peer, ok := byID[peerID]
			if !ok || peer == s {
				continue
			}
			if peer.contentType != s.contentType || peer.language != s.language {
				continue
			}
			hs, hp := head(s), head(peer)
			if hs == hp {
				continue
			}
			// Union the later group into the earlier one to keep document
			// order stable.
			if indexOf(sets, hp) < indexOf(sets, hs) {
				hs, hp = hp, hs
			}
			hs.streams = append(hs.streams, hp.streams...)
			for id, dep := range hp.dependencyIDs {
				hs.dependencyIDs[id] = dep
			}
			hs.primary = hs.primary || hp.primary
			merged[hp] = hs
		}
	}

	out := sets[:0]
	for _, s := range sets {
		if merged[s] == nil {
			out = append(out, s)
		}
	}
	return out
}

func indexOf(sets []*adaptationSet, target *adaptationSet) int {
	for i, s := range sets {
		if s == target {
			return i
		}
	}
	return -1
}

// checkDuplicateIDs enforces representation-id uniqueness for dynamic
// manifests. Static manifests tolerate duplicates: VOD indexes are
// computed directly from the timeline and hold no shared keyed-by-id
// state.
func checkDuplicateIDs(sets []*adaptationSet, pc *periodContext) error {
	if !pc.dynamic {
		return nil
	}
	seen := make(map[string]bool)
	for _, set := range sets {
		for _, s := range set.streams {
			if s.OriginalID == "" {
				continue
			}
			if seen[s.OriginalID] {
				return mpderr.CriticalManifest(mpderr.CodeDuplicateRepresentation,
					"duplicate representation id %q in dynamic manifest", s.OriginalID)
			}
			seen[s.OriginalID] = true
		}
	}
	return nil
}

// linkDependencies resolves dependencyId declarations: the enhancement
// layer's bandwidth absorbs its base layer's, its original id becomes the
// concatenation of both, and it points one-directionally at the base.
func linkDependencies(sets []*adaptationSet) {
	byRepID := make(map[string]*manifest.Stream)
	for _, set := range sets {
		for _, s := range set.streams {
			if s.OriginalID != "" {
				byRepID[s.OriginalID] = s
			}
		}
	}
	for _, set := range sets {
		for _, s := range set.streams {
			depID := set.dependencyIDs[s.ID]
			if depID == "" {
				continue
			}
			base, ok := byRepID[depID]
			if !ok || base == s {
				continue
			}
			s.DependencyStream = base
			s.Bandwidth += base.Bandwidth
			s.OriginalID = base.OriginalID + s.OriginalID
		}
	}
}

// dropTrickMode removes trick-mode adaptation sets entirely, so their
// streams are neither linked nor carried.
func dropTrickMode(sets []*adaptationSet) []*adaptationSet {
	kept := sets[:0]
	for _, set := range sets {
		if len(set.trickModeFor) == 0 {
			kept = append(kept, set)
		}
	}
	return kept
}

// linkTrickMode attaches trick-mode renditions to the normal streams of
// the adaptation sets they reference. Codec-incompatible pairs and
// bogus or self-referencing declarations yield no link and no error; the
// descriptor is advisory.
func linkTrickMode(sets []*adaptationSet) {
	byID := make(map[string]*adaptationSet, len(sets))
	for _, s := range sets {
		if s.id != "" {
			byID[s.id] = s
		}
	}
	for _, trick := range sets {
		for _, targetID := range trick.trickModeFor {
			target, ok := byID[targetID]
			if !ok || target == trick || len(target.trickModeFor) > 0 {
				continue
			}
			for _, normal := range target.streams {
				if best := bestTrickMatch(normal, trick.streams); best != nil {
					normal.TrickModeVideo = best
				}
			}
		}
	}
}

// bestTrickMatch picks the trick-mode stream for a normal stream: same
// codec family, preferring an exact resolution match, then the largest
// rendition not exceeding the normal stream's.
func bestTrickMatch(normal *manifest.Stream, trickStreams []*manifest.Stream) *manifest.Stream {
	var best *manifest.Stream
	for _, t := range trickStreams {
		if codecFamily(t.Codecs) != codecFamily(normal.Codecs) {
			continue
		}
		if t.Width == normal.Width && t.Height == normal.Height {
			return t
		}
		if t.Width > normal.Width || t.Height > normal.Height {
			continue
		}
		if best == nil || t.Width*t.Height > best.Width*best.Height {
			best = t
		}
	}
	return best
}

func codecFamily(codecs string) string {
	if i := strings.Index(codecs, "."); i >= 0 {
		return codecs[:i]
	}
	return codecs
}

// buildVariants takes the canonical stream sets and produces the
// audio×video cross-product. Periods with only one of the two still
// yield variants, with a nil counterpart.
func buildVariants(video, audio []*manifest.Stream) ([]*manifest.Variant, error) {
	var out []*manifest.Variant
	nextID := 0

	makeVariant := func(v, a *manifest.Stream) (*manifest.Variant, error) {
		if _, ok := commonKeySystems([]*manifest.Stream{v, a}); !ok {
			return nil, mpderr.CriticalManifest(mpderr.CodeNoCommonKeySystem,
				"no common key system between video %q and audio %q",
				streamOriginalID(v), streamOriginalID(a))
		}
		nextID++
		variant := &manifest.Variant{ID: nextID, Video: v, Audio: a}
		if v != nil {
			variant.Bandwidth += v.Bandwidth
		}
		if a != nil {
			variant.Bandwidth += a.Bandwidth
			variant.Language = a.Language
			variant.Primary = variant.Primary || a.Primary
		}
		if v != nil {
			variant.Primary = variant.Primary || v.Primary
		}
		if variant.Language == "" && v != nil {
			variant.Language = v.Language
		}
		return variant, nil
	}

	switch {
	case len(video) > 0 && len(audio) > 0:
		for _, v := range video {
			for _, a := range audio {
				variant, err := makeVariant(v, a)
				if err != nil {
					return nil, err
				}
				out = append(out, variant)
			}
		}
	case len(video) > 0:
		for _, v := range video {
			variant, err := makeVariant(v, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, variant)
		}
	case len(audio) > 0:
		for _, a := range audio {
			variant, err := makeVariant(nil, a)
			if err != nil {
				return nil, err
			}
			out = append(out, variant)
		}
	}
	return out, nil
}

func streamOriginalID(s *manifest.Stream) string {
	if s == nil {
		return ""
	}
	return s.OriginalID
}
