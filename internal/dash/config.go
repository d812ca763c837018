// Package dash resolves DASH MPD documents into the canonical presentation
// model in internal/manifest. It performs multi-level inheritance
// resolution, content-protection (DRM) discovery, segment-index
// construction for the three addressing schemes, and structural assembly
// of adaptation sets into variants. The package operates on an
// already-parsed XML element tree and never performs network I/O itself;
// fetching is delegated to the collaborator interfaces below.
package dash

import (
	"log/slog"
	"time"

	"github.com/beevik/etree"

	"dash-resolver/internal/manifest"
)

// CustomSchemeFunc maps an unrecognized ContentProtection scheme URN to
// zero or more synthetic DrmInfo entries. Returning nil means the scheme
// stays unrecognized.
type CustomSchemeFunc func(schemeURI string, el *etree.Element) []*manifest.DrmInfo

// PreprocessorFunc mutates the parsed MPD tree before structural
// resolution runs.
type PreprocessorFunc func(root *etree.Element)

// UTCTiming describes one UTCTiming element from the manifest.
type UTCTiming struct {
	SchemeIDURI string
	Value       string
}

// ClockSource supplies the wall-clock offset for dynamic manifests. The
// resolver hands over the manifest's UTCTiming declarations in document
// order; implementations try them until one succeeds.
type ClockSource interface {
	Offset(schemes []UTCTiming) (time.Duration, error)
}

// BaseURL is one alternate base URL together with its service location,
// the handle content steering uses to reorder CDN pathways.
type BaseURL struct {
	URI             string
	ServiceLocation string
}

// SteeringInfo describes the manifest's ContentSteering element.
type SteeringInfo struct {
	ServerURI              string
	DefaultServiceLocation string
	QueryBeforeStart       bool
}

// BaseURLPrioritizer reorders same-purpose alternate base URLs before
// segment generation. A content-steering implementation may fetch an
// external steering manifest; the core only consumes the final order.
type BaseURLPrioritizer interface {
	Prioritize(steering *SteeringInfo, urls []BaseURL) []BaseURL
}

// IndexRequest locates the byte range of a container-embedded segment
// index (SegmentBase addressing) for an external collaborator to fetch
// and interpret.
type IndexRequest struct {
	URIs                   []string
	StartByte              int64
	EndByte                *int64
	Init                   *manifest.InitSegmentReference
	Timescale              int64
	PresentationTimeOffset float64
	// PeriodStart and PeriodEnd bound the produced references.
	PeriodStart float64
	PeriodEnd   float64
}

// IndexFetcher resolves a SegmentBase index box into concrete references.
type IndexFetcher interface {
	FetchIndex(req IndexRequest) ([]*manifest.SegmentReference, error)
}

// Config carries the recognized resolver options. The zero value is a
// working configuration for clear, static manifests.
type Config struct {
	// IgnoreDrmInfo drops embedded DRM init data and expands generic CENC
	// to the full known-key-system table. Key IDs are still parsed.
	IgnoreDrmInfo bool

	DisableAudio   bool
	DisableVideo   bool
	DisableText    bool
	DisableIFrames bool

	// Ignore* replace the manifest-declared value with the caller default.
	IgnoreMinBufferTime              bool
	IgnoreMaxSegmentDuration         bool
	IgnoreSuggestedPresentationDelay bool

	// DefaultPresentationDelay is used when the manifest declares no
	// suggestedPresentationDelay or the caller ignores it.
	DefaultPresentationDelay float64

	// LastSegmentNumber caps implicit segment numbering, keyed by
	// representation ID. Zero means no cap.
	LastSegmentNumber map[string]int64

	// CustomScheme resolves unrecognized ContentProtection scheme URNs.
	CustomScheme CustomSchemeFunc
	// Preprocessor runs on the parsed tree before resolution.
	Preprocessor PreprocessorFunc

	Clock       ClockSource
	Prioritizer BaseURLPrioritizer
	Index       IndexFetcher

	// Now is the wall-clock source for dynamic availability windows.
	// Nil means time.Now.
	Now func() time.Time

	Log *slog.Logger
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Config) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}
