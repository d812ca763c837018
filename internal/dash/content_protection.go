package dash

import (
	"encoding/base64"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"dash-resolver/internal/manifest"
	"dash-resolver/internal/mpderr"
	"dash-resolver/internal/xmlutil"
)

// Well-known key-system identifiers.
const (
	keySystemWidevine  = "com.widevine.alpha"
	keySystemPlayReady = "com.microsoft.playready"
	keySystemFairPlay  = "com.apple.fps"
	keySystemClearKey  = "org.w3.clearkey"
)

// mp4ProtectionScheme is the generic common-encryption signaling scheme.
// An element with this URN marks the content encrypted without naming a
// key system.
const mp4ProtectionScheme = "urn:mpeg:dash:mp4protection:2011"

// keySystemsByURI maps ContentProtection scheme URNs (lowercase) to key
// systems. PlayReady has accumulated a legacy URN over time; both map to
// the same system.
var keySystemsByURI = map[string]string{
	"urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed": keySystemWidevine,
	"urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95": keySystemPlayReady,
	"urn:uuid:79f0049a-4098-8642-ab92-e65be0885f95": keySystemPlayReady,
	"urn:uuid:94ce86fb-07ff-4f43-adb8-93d2fa968ca2": keySystemFairPlay,
	"urn:uuid:1077efec-c0b2-4d02-ace3-3c1e52e2fb4b": keySystemClearKey,
}

var systemIDByKeySystem = map[string][16]byte{
	keySystemWidevine:  widevineSystemID,
	keySystemPlayReady: playReadySystemID,
	keySystemFairPlay:  fairPlaySystemID,
	keySystemClearKey:  clearKeySystemID,
}

// allKeySystems returns the known key systems in a stable order, for
// generic-CENC expansion.
func allKeySystems() []string {
	out := make([]string, 0, len(systemIDByKeySystem))
	for ks := range systemIDByKeySystem {
		out = append(out, ks)
	}
	sort.Strings(out)
	return out
}

// cpElement is one parsed ContentProtection element.
type cpElement struct {
	el        *etree.Element
	schemeURI string // lowercased
	value     string
	keySystem string // "" when not a well-known specific scheme
	generic   bool   // mp4protection marker element
	keyID     string // lowercase hex, dashes stripped; "" when absent
	pssh      []byte // decoded cenc:pssh payload, if any
	pro       []byte // decoded mspr:pro payload, if any
}

// cpAggregate is the resolved protection state of one inheritance level.
type cpAggregate struct {
	elements         []cpElement
	drmInfos         []*manifest.DrmInfo
	defaultKeyID     string
	encryptionScheme string
	// unrecognized is true when protection elements existed but none
	// resolved to a known system or callback match.
	unrecognized bool
}

// parseCPElements decodes the ContentProtection children of one level.
func parseCPElements(elems []*etree.Element) ([]cpElement, error) {
	var out []cpElement
	for _, el := range elems {
		parsed := cpElement{
			el:        el,
			schemeURI: strings.ToLower(strings.TrimSpace(xmlutil.AttrValue(el, "schemeIdUri"))),
			value:     xmlutil.AttrValue(el, "value"),
		}
		if parsed.schemeURI == mp4ProtectionScheme {
			parsed.generic = true
		} else {
			parsed.keySystem = keySystemsByURI[parsed.schemeURI]
		}

		if kid := xmlutil.AttrValue(el, "default_KID"); kid != "" {
			if strings.ContainsAny(strings.TrimSpace(kid), " \t") {
				return nil, mpderr.CriticalManifest(mpderr.CodeMultipleKeyIDs,
					"multiple key IDs are not supported on one ContentProtection element")
			}
			parsed.keyID = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(kid), "-", ""))
		}

		if psshEl := xmlutil.Child(el, "pssh"); psshEl != nil {
			data, err := base64.StdEncoding.DecodeString(xmlutil.Text(psshEl))
			if err != nil {
				return nil, mpderr.CriticalManifest(mpderr.CodePsshBadEncoding,
					"cenc:pssh is not valid base64: %v", err)
			}
			parsed.pssh = data
		}
		if proEl := xmlutil.Child(el, "pro"); proEl != nil {
			data, err := base64.StdEncoding.DecodeString(xmlutil.Text(proEl))
			if err != nil {
				return nil, mpderr.CriticalManifest(mpderr.CodePsshBadEncoding,
					"mspr:pro is not valid base64: %v", err)
			}
			parsed.pro = data
		}
		out = append(out, parsed)
	}
	return out, nil
}

// aggregateProtection resolves the ContentProtection elements attached to
// one level (AdaptationSet or Representation) into DrmInfos.
func aggregateProtection(elems []*etree.Element, cfg *Config) (*cpAggregate, error) {
	parsed, err := parseCPElements(elems)
	if err != nil {
		return nil, err
	}
	agg := &cpAggregate{elements: parsed, encryptionScheme: manifest.SchemeCenc}

	// Sibling elements must agree on the default key ID; two different
	// KIDs at the same level cannot describe one representation.
	for _, p := range parsed {
		if p.keyID == "" {
			continue
		}
		if agg.defaultKeyID != "" && agg.defaultKeyID != p.keyID {
			return nil, mpderr.CriticalManifest(mpderr.CodeConflictingKeyIDs,
				"conflicting default_KID values %q and %q", agg.defaultKeyID, p.keyID)
		}
		agg.defaultKeyID = p.keyID
	}

	var generic *cpElement
	for i := range parsed {
		p := &parsed[i]
		if p.generic {
			generic = p
			if p.value == manifest.SchemeCbcs {
				agg.encryptionScheme = manifest.SchemeCbcs
			}
			continue
		}
		if cfg.IgnoreDrmInfo {
			// Embedded DRM info is ignored wholesale; the fixed expansion
			// below replaces whatever specific systems were declared.
			continue
		}
		if p.keySystem != "" {
			agg.drmInfos = append(agg.drmInfos, drmInfoFromElement(p, agg, cfg))
			continue
		}
		if cfg.CustomScheme != nil {
			if infos := cfg.CustomScheme(p.schemeURI, p.el); infos != nil {
				for _, info := range infos {
					completeDrmInfo(info, agg)
					agg.drmInfos = append(agg.drmInfos, info)
				}
				continue
			}
		}
		// Unrecognized scheme with no callback match. Advisory: remember
		// it so an "encrypted, scheme unknown" placeholder can be
		// emitted, but do not report an error.
		agg.unrecognized = true
	}

	expand := generic != nil && len(agg.drmInfos) == 0
	if cfg.IgnoreDrmInfo && len(parsed) > 0 {
		expand = true
	}
	if expand {
		// Generic CENC expands to every known key system; ignoreDrmInfo
		// forces the same fixed set regardless of what was declared.
		for _, ks := range allKeySystems() {
			info := &manifest.DrmInfo{KeySystem: ks}
			completeDrmInfo(info, agg)
			if !cfg.IgnoreDrmInfo && generic != nil && generic.pssh != nil {
				info.InitData = []manifest.InitDataOverride{{
					Type:  "cenc",
					Data:  generic.pssh,
					KeyID: generic.keyID,
				}}
			}
			agg.drmInfos = append(agg.drmInfos, info)
		}
	}

	if len(agg.drmInfos) == 0 && agg.unrecognized {
		// Encrypted under an unknown scheme: signal protection without
		// claiming a specific system rather than silently dropping it.
		info := &manifest.DrmInfo{KeySystem: ""}
		completeDrmInfo(info, agg)
		agg.drmInfos = append(agg.drmInfos, info)
	}

	dedupeKeySystems(agg)
	return agg, nil
}

// drmInfoFromElement builds the DrmInfo for a specific-scheme element.
func drmInfoFromElement(p *cpElement, agg *cpAggregate, cfg *Config) *manifest.DrmInfo {
	info := &manifest.DrmInfo{KeySystem: p.keySystem}
	completeDrmInfo(info, agg)
	if p.keyID != "" {
		info.KeyIDs = map[string]bool{p.keyID: true}
	}
	if cfg.IgnoreDrmInfo {
		return info
	}
	switch {
	case p.pssh != nil:
		// A ready-made PSSH box always wins.
		info.InitData = []manifest.InitDataOverride{{
			Type:  "cenc",
			Data:  p.pssh,
			KeyID: p.keyID,
		}}
		if len(info.KeyIDs) == 0 {
			// Version-1 boxes carry their key IDs inline; adopt them when
			// the manifest declares no default_KID.
			if box, err := parsePssh(p.pssh); err == nil && len(box.KeyIDs) > 0 {
				info.KeyIDs = make(map[string]bool, len(box.KeyIDs))
				for _, kid := range box.KeyIDs {
					info.KeyIDs[kid] = true
				}
			}
		}
	case p.pro != nil && p.keySystem == keySystemPlayReady:
		// PlayReady manifests often ship only the vendor object; wrap it
		// in a synthesized version-0 PSSH so EME can consume it.
		info.InitData = []manifest.InitDataOverride{{
			Type:  "cenc",
			Data:  buildPssh(playReadySystemID, p.pro),
			KeyID: p.keyID,
		}}
		info.LicenseServerURI = playReadyLicenseURL(p.pro)
	}
	return info
}

// completeDrmInfo fills level-wide defaults into info.
func completeDrmInfo(info *manifest.DrmInfo, agg *cpAggregate) {
	if info.EncryptionScheme == "" {
		info.EncryptionScheme = agg.encryptionScheme
	}
	if len(info.KeyIDs) == 0 && agg.defaultKeyID != "" {
		info.KeyIDs = map[string]bool{agg.defaultKeyID: true}
	}
}

// dedupeKeySystems keeps the first DrmInfo per key system; within one
// stream key systems are unique.
func dedupeKeySystems(agg *cpAggregate) {
	seen := make(map[string]bool)
	out := agg.drmInfos[:0]
	for _, info := range agg.drmInfos {
		if seen[info.KeySystem] {
			continue
		}
		seen[info.KeySystem] = true
		out = append(out, info)
	}
	agg.drmInfos = out
}

// mergeRepresentationProtection merges AdaptationSet-level protection into
// one representation's own. The representation inherits every
// AdaptationSet-level key system unless it declares its own element for
// the same key system, in which case its own values win per key system.
// Conflicting key IDs for the same key system across the two levels are a
// manifest authoring error.
func mergeRepresentationProtection(asAgg, repAgg *cpAggregate) (*cpAggregate, error) {
	if asAgg == nil {
		return repAgg, nil
	}
	if repAgg == nil || (len(repAgg.drmInfos) == 0 && repAgg.defaultKeyID == "" && !repAgg.unrecognized) {
		return asAgg, nil
	}

	merged := &cpAggregate{
		encryptionScheme: repAgg.encryptionScheme,
		defaultKeyID:     repAgg.defaultKeyID,
		unrecognized:     asAgg.unrecognized || repAgg.unrecognized,
	}
	if merged.defaultKeyID == "" {
		merged.defaultKeyID = asAgg.defaultKeyID
	} else if asAgg.defaultKeyID != "" && asAgg.defaultKeyID != merged.defaultKeyID {
		return nil, mpderr.CriticalManifest(mpderr.CodeConflictingKeyIDs,
			"representation default_KID %q conflicts with adaptation set %q",
			merged.defaultKeyID, asAgg.defaultKeyID)
	}

	own := make(map[string]bool, len(repAgg.drmInfos))
	for _, info := range repAgg.drmInfos {
		own[info.KeySystem] = true
		merged.drmInfos = append(merged.drmInfos, info)
	}
	for _, info := range asAgg.drmInfos {
		if !own[info.KeySystem] {
			merged.drmInfos = append(merged.drmInfos, info)
		}
	}
	return merged, nil
}

// commonKeySystems intersects the key-system sets of the given streams.
// Clear streams (no DRM info) do not constrain the intersection.
func commonKeySystems(streams []*manifest.Stream) (map[string]bool, bool) {
	var common map[string]bool
	constrained := false
	for _, s := range streams {
		if s == nil || len(s.DrmInfos) == 0 {
			continue
		}
		ks := manifest.KeySystems(s.DrmInfos)
		if !constrained {
			common = ks
			constrained = true
			continue
		}
		for k := range common {
			if !ks[k] {
				delete(common, k)
			}
		}
	}
	if !constrained {
		return nil, true
	}
	return common, len(common) > 0
}
