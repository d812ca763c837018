package dash

import (
	"fmt"
	"testing"
	"time"

	"github.com/beevik/etree"

	"dash-resolver/internal/manifest"
	"dash-resolver/internal/mpderr"
)

const manifestURI = "https://example.com/dash/manifest.mpd"

func mustResolve(t *testing.T, cfg Config, mpd string) *manifest.Manifest {
	t.Helper()
	man, err := New(cfg).Parse([]byte(mpd), manifestURI)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return man
}

func mustIndex(t *testing.T, s *manifest.Stream) manifest.SegmentIndex {
	t.Helper()
	if err := s.CreateSegmentIndex(); err != nil {
		t.Fatalf("CreateSegmentIndex: %v", err)
	}
	return s.Index()
}

const basicStatic = `
<MPD type="static" mediaPresentationDuration="PT30S" minBufferTime="PT2S">
	<Period id="p1">
		<AdaptationSet id="1" contentType="video" mimeType="video/mp4" codecs="avc1.42E01E">
			<SegmentTemplate media="v-$RepresentationID$-$Number$.m4s"
				initialization="v-$RepresentationID$-init.mp4" duration="10"/>
			<Representation id="v1" bandwidth="1000000" width="1280" height="720"/>
			<Representation id="v2" bandwidth="2000000" width="1920" height="1080"/>
		</AdaptationSet>
		<AdaptationSet id="2" contentType="audio" mimeType="audio/mp4" codecs="mp4a.40.2" lang="en">
			<Role schemeIdUri="urn:mpeg:dash:role:2011" value="main"/>
			<SegmentTemplate media="a-$Number%05d$.m4s" duration="10"/>
			<Representation id="a1" bandwidth="128000"/>
		</AdaptationSet>
	</Period>
</MPD>`

func TestParseBasicStatic(t *testing.T) {
	man := mustResolve(t, Config{}, basicStatic)

	if man.Timeline.Type != manifest.Static || man.Timeline.Duration != 30 {
		t.Errorf("timeline = %+v", man.Timeline)
	}
	if man.Timeline.MinBufferTime != 2 {
		t.Errorf("MinBufferTime = %v", man.Timeline.MinBufferTime)
	}
	if man.PeriodCount != 1 || man.GapCount != 0 {
		t.Errorf("periods = %d, gaps = %d", man.PeriodCount, man.GapCount)
	}
	if len(man.Variants) != 2 {
		t.Fatalf("got %d variants, want video x audio = 2", len(man.Variants))
	}

	v := man.Variants[0]
	if v.Video == nil || v.Video.OriginalID != "v1" || v.Audio == nil || v.Audio.OriginalID != "a1" {
		t.Fatalf("variant pairing: %+v", v)
	}
	if v.Bandwidth != 1128000 {
		t.Errorf("Bandwidth = %d", v.Bandwidth)
	}
	if v.Language != "en" || !v.Primary {
		t.Errorf("Language = %q, Primary = %v", v.Language, v.Primary)
	}
	if v.Video.Width != 1280 || v.Video.Height != 720 {
		t.Errorf("video geometry = %dx%d", v.Video.Width, v.Video.Height)
	}

	idx := mustIndex(t, v.Video)
	if idx.Count() != 3 {
		t.Fatalf("video segments = %d", idx.Count())
	}
	if got := idx.Get(0).URIs[0]; got != "https://example.com/dash/v-v1-1.m4s" {
		t.Errorf("segment URI = %q", got)
	}
	if got := idx.Get(0).Init.URIs[0]; got != "https://example.com/dash/v-v1-init.mp4" {
		t.Errorf("init URI = %q", got)
	}
	if idx.Get(2).EndTime != 30 {
		t.Errorf("last segment end = %v", idx.Get(2).EndTime)
	}

	aidx := mustIndex(t, v.Audio)
	if got := aidx.Get(0).URIs[0]; got != "https://example.com/dash/a-00001.m4s" {
		t.Errorf("audio URI = %q", got)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	p := New(Config{})
	m1, err := p.Parse([]byte(basicStatic), manifestURI)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := p.Parse([]byte(basicStatic), manifestURI)
	if err != nil {
		t.Fatal(err)
	}
	if m1 != m2 {
		t.Error("re-parse should return the same manifest object")
	}
	if len(m2.Variants) != 2 {
		t.Errorf("variants after re-parse = %d", len(m2.Variants))
	}
	if m1.Variants[0].Video != m2.Variants[0].Video {
		t.Error("stream identity must survive a re-parse")
	}
}

func TestIndependentResolutionsStructurallyEqual(t *testing.T) {
	m1 := mustResolve(t, Config{}, basicStatic)
	m2 := mustResolve(t, Config{}, basicStatic)

	if m1.Timeline != m2.Timeline {
		t.Errorf("timelines differ: %+v vs %+v", m1.Timeline, m2.Timeline)
	}
	if m1.PeriodCount != m2.PeriodCount || m1.GapCount != m2.GapCount {
		t.Errorf("period structure differs")
	}
	if len(m1.Variants) != len(m2.Variants) {
		t.Fatalf("variant counts differ: %d vs %d", len(m1.Variants), len(m2.Variants))
	}
	for i := range m1.Variants {
		a, b := m1.Variants[i], m2.Variants[i]
		if a.Bandwidth != b.Bandwidth || a.Language != b.Language || a.Primary != b.Primary {
			t.Errorf("variant %d differs: %+v vs %+v", i, a, b)
		}
		sameStream(t, a.Video, b.Video)
		sameStream(t, a.Audio, b.Audio)
	}
}

// sameStream asserts two independently resolved streams are structurally
// equal, down to their materialized segment references.
func sameStream(t *testing.T, a, b *manifest.Stream) {
	t.Helper()
	if (a == nil) != (b == nil) {
		t.Fatalf("stream presence differs: %v vs %v", a, b)
	}
	if a == nil {
		return
	}
	if a.OriginalID != b.OriginalID || a.Type != b.Type || a.MimeType != b.MimeType ||
		a.Codecs != b.Codecs || a.Bandwidth != b.Bandwidth || a.Language != b.Language ||
		a.Width != b.Width || a.Height != b.Height {
		t.Errorf("stream %q differs: %+v vs %+v", a.OriginalID, a, b)
	}
	ia, ib := mustIndex(t, a), mustIndex(t, b)
	if ia.Count() != ib.Count() {
		t.Fatalf("stream %q segment counts differ: %d vs %d", a.OriginalID, ia.Count(), ib.Count())
	}
	for i := 0; i < ia.Count(); i++ {
		ra, rb := ia.Get(i), ib.Get(i)
		if ra.StartTime != rb.StartTime || ra.EndTime != rb.EndTime ||
			ra.TimestampOffset != rb.TimestampOffset || ra.URIs[0] != rb.URIs[0] {
			t.Errorf("stream %q segment %d differs: %+v vs %+v", a.OriginalID, i, ra, rb)
		}
	}
}

func TestPeriodStartBackfill(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT40S">
	<Period id="1" start="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="p1-$Number$.m4s" duration="10"/>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
	<Period id="2" start="PT20S" duration="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="p2-$Number$.m4s" duration="10"/>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
	<Period id="3" duration="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="p3-$Number$.m4s" duration="10"/>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{}, mpd)
	if man.PeriodCount != 3 || man.GapCount != 0 {
		t.Fatalf("periods = %d, gaps = %d", man.PeriodCount, man.GapCount)
	}
	if len(man.Variants) != 1 {
		t.Fatalf("the shared representation id should fold into one stream, got %d variants", len(man.Variants))
	}

	idx := mustIndex(t, man.Variants[0].Video)
	if idx.Count() != 3 {
		t.Fatalf("segments = %d", idx.Count())
	}
	for i, want := range []float64{10, 20, 30} {
		if got := idx.Get(i).StartTime; got != want {
			t.Errorf("period %d start = %v, want %v", i, got, want)
		}
	}
}

func TestPeriodContinuity(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT20S">
	<Period id="1" duration="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="p1-$Number$.m4s" duration="2"/>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
	<Period id="2" duration="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="p2-$Number$.m4s" duration="2" presentationTimeOffset="10"/>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{}, mpd)
	meta, ok := mustIndex(t, man.Variants[0].Video).(*manifest.MetaSegmentIndex)
	if !ok {
		t.Fatal("expected a stitched meta-index")
	}
	if meta.SubCount() != 2 {
		t.Fatalf("SubCount = %d", meta.SubCount())
	}
	// The second period's presentationTimeOffset equals its start, so both
	// periods resolve to the same timestamp offset and continue one
	// encoder timeline.
	if meta.Continuity(0) != meta.Continuity(1) {
		t.Error("aligned periods should share a continuity id")
	}
}

func TestPeriodDiscontinuity(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT20S">
	<Period id="1" duration="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="p1-$Number$.m4s" duration="2"/>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
	<Period id="2" duration="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="p2-$Number$.m4s" duration="2"/>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{}, mpd)
	meta := mustIndex(t, man.Variants[0].Video).(*manifest.MetaSegmentIndex)
	if meta.Continuity(0) == meta.Continuity(1) {
		t.Error("second period restarts media time, continuity must break")
	}
}

func TestPeriodGapCounting(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT20S">
	<Period id="1" duration="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="a$Number$.m4s" duration="10"/>
			<Representation id="v1" bandwidth="100"/>
		</AdaptationSet>
	</Period>
	<Period id="2" start="PT12S" duration="PT8S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="b$Number$.m4s" duration="8"/>
			<Representation id="v2" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{}, mpd)
	if man.GapCount != 1 {
		t.Errorf("GapCount = %d, want 1", man.GapCount)
	}
}

func TestDuplicateRepresentationIDs(t *testing.T) {
	body := `
	<Period id="1" start="PT0S" duration="PT10S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="s-$Time$.m4s">
				<SegmentTimeline><S t="0" d="10"/></SegmentTimeline>
			</SegmentTemplate>
			<Representation id="v" bandwidth="100"/>
			<Representation id="v" bandwidth="200"/>
		</AdaptationSet>
	</Period>`

	man := mustResolve(t, Config{}, `<MPD type="static" mediaPresentationDuration="PT10S">`+body+`</MPD>`)
	if len(man.Variants) != 2 {
		t.Errorf("static manifest should tolerate duplicate ids, got %d variants", len(man.Variants))
	}

	_, err := New(Config{}).Parse([]byte(
		`<MPD type="dynamic" availabilityStartTime="1970-01-01T00:00:00Z">`+body+`</MPD>`), manifestURI)
	if !mpderr.IsCode(err, mpderr.CodeDuplicateRepresentation) {
		t.Errorf("dynamic duplicate ids: err = %v", err)
	}
}

func TestEmptyPeriodRejected(t *testing.T) {
	_, err := New(Config{}).Parse([]byte(
		`<MPD type="static" mediaPresentationDuration="PT10S"><Period id="1"/></MPD>`), manifestURI)
	if !mpderr.IsCode(err, mpderr.CodeEmptyPeriod) {
		t.Errorf("err = %v", err)
	}
}

func TestInvalidXMLRejected(t *testing.T) {
	if _, err := New(Config{}).Parse([]byte("<MPD"), manifestURI); !mpderr.IsCode(err, mpderr.CodeInvalidXML) {
		t.Errorf("err = %v", err)
	}
	if _, err := New(Config{}).Parse([]byte("<Playlist/>"), manifestURI); !mpderr.IsCode(err, mpderr.CodeInvalidXML) {
		t.Errorf("non-MPD root: err = %v", err)
	}
}

func TestOnRequestXlinkRejected(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S" xmlns:xlink="http://www.w3.org/1999/xlink">
	<Period xlink:href="https://example.com/period.xml" xlink:actuate="onRequest"/>
</MPD>`
	_, err := New(Config{}).Parse([]byte(mpd), manifestURI)
	if !mpderr.IsCode(err, mpderr.CodeUnsupportedXlinkActuate) {
		t.Errorf("err = %v", err)
	}
}

func TestNoCommonKeySystemRejected(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<Period id="1">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"/>
			<SegmentTemplate media="v$Number$.m4s" duration="10"/>
			<Representation id="v1" bandwidth="100"/>
		</AdaptationSet>
		<AdaptationSet contentType="audio" mimeType="audio/mp4">
			<ContentProtection schemeIdUri="urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95"/>
			<SegmentTemplate media="a$Number$.m4s" duration="10"/>
			<Representation id="a1" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`
	_, err := New(Config{}).Parse([]byte(mpd), manifestURI)
	if !mpderr.IsCode(err, mpderr.CodeNoCommonKeySystem) {
		t.Errorf("err = %v", err)
	}
}

func TestTrickModeLinking(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<Period id="1">
		<AdaptationSet id="main" contentType="video" mimeType="video/mp4" codecs="avc1.64001f">
			<SegmentTemplate media="v$Number$.m4s" duration="10"/>
			<Representation id="v1" bandwidth="1000" width="1280" height="720"/>
		</AdaptationSet>
		<AdaptationSet id="trick" contentType="video" mimeType="video/mp4" codecs="avc1.42c00d">
			<EssentialProperty schemeIdUri="http://dashif.org/guidelines/trickmode" value="main"/>
			<SegmentTemplate media="t$Number$.m4s" duration="10"/>
			<Representation id="t1" bandwidth="100" width="640" height="360"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{}, mpd)
	if len(man.Variants) != 1 {
		t.Fatalf("trick-mode sets must not become variants, got %d", len(man.Variants))
	}
	trick := man.Variants[0].Video.TrickModeVideo
	if trick == nil || trick.OriginalID != "t1" {
		t.Fatalf("trick link = %+v", trick)
	}
	idx := mustIndex(t, trick)
	if idx.Count() != 1 || idx.Get(0).URIs[0] != "https://example.com/dash/t1.m4s" {
		t.Errorf("trick index: count=%d", idx.Count())
	}
}

func TestDisableIFramesDropsTrickMode(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<Period id="1">
		<AdaptationSet id="main" contentType="video" mimeType="video/mp4" codecs="avc1.64001f">
			<SegmentTemplate media="v$Number$.m4s" duration="10"/>
			<Representation id="v1" bandwidth="1000" width="1280" height="720"/>
		</AdaptationSet>
		<AdaptationSet id="trick" contentType="video" mimeType="video/mp4" codecs="avc1.42c00d">
			<EssentialProperty schemeIdUri="http://dashif.org/guidelines/trickmode" value="main"/>
			<SegmentTemplate media="t$Number$.m4s" duration="10"/>
			<Representation id="t1" bandwidth="100" width="640" height="360"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{DisableIFrames: true}, mpd)
	if len(man.Variants) != 1 {
		t.Fatalf("got %d variants", len(man.Variants))
	}
	if trick := man.Variants[0].Video.TrickModeVideo; trick != nil {
		t.Errorf("trick-mode stream %q linked with i-frames disabled", trick.OriginalID)
	}
}

func TestUnsupportedContainersDropped(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<Period id="1">
		<AdaptationSet contentType="video">
			<SegmentTemplate media="$RepresentationID$-$Number$.m4s" duration="10"/>
			<Representation id="good" mimeType="video/mp4" bandwidth="1000"/>
			<Representation id="vp9" mimeType="video/webm" bandwidth="900"/>
			<Representation id="ts" mimeType="video/mp2t" bandwidth="800"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{}, mpd)
	if len(man.Variants) != 1 {
		t.Fatalf("got %d variants, want the webm and mp2t representations dropped", len(man.Variants))
	}
	if got := man.Variants[0].Video.OriginalID; got != "good" {
		t.Errorf("surviving representation = %q", got)
	}
}

func TestWebmOnlyAdaptationSetRejected(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<Period id="1">
		<AdaptationSet contentType="video" mimeType="video/webm">
			<SegmentTemplate media="$Number$.webm" duration="10"/>
			<Representation id="v" bandwidth="1000"/>
		</AdaptationSet>
	</Period>
</MPD>`
	_, err := New(Config{}).Parse([]byte(mpd), manifestURI)
	if !mpderr.IsCode(err, mpderr.CodeEmptyAdaptationSet) {
		t.Errorf("expected empty adaptation set error, got %v", err)
	}
}

func TestDependencyLinking(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<Period id="1">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="$RepresentationID$-$Number$.m4s" duration="10"/>
			<Representation id="base" bandwidth="1000"/>
			<Representation id="enh" bandwidth="500" dependencyId="base"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{}, mpd)
	var enh *manifest.Stream
	for _, s := range man.AllStreams() {
		if s.DependencyStream != nil {
			enh = s
		}
	}
	if enh == nil {
		t.Fatal("no enhancement stream linked")
	}
	if enh.Bandwidth != 1500 {
		t.Errorf("Bandwidth = %d, want base + enhancement", enh.Bandwidth)
	}
	if enh.OriginalID != "baseenh" {
		t.Errorf("OriginalID = %q", enh.OriginalID)
	}
	if enh.DependencyStream.OriginalID != "base" {
		t.Errorf("base link = %q", enh.DependencyStream.OriginalID)
	}
}

func TestTextCodecForcesTextType(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<Period id="1">
		<AdaptationSet mimeType="application/mp4" codecs="stpp.ttml.im1t" lang="de">
			<SegmentTemplate media="sub$Number$.m4s" duration="10"/>
			<Representation id="s1" bandwidth="1000"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{}, mpd)
	if len(man.TextStreams) != 1 {
		t.Fatalf("TextStreams = %d", len(man.TextStreams))
	}
	s := man.TextStreams[0]
	if s.Type != manifest.TypeText || s.Language != "de" {
		t.Errorf("stream = %+v", s)
	}
}

func TestDisableTextFilters(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<Period id="1">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="v$Number$.m4s" duration="10"/>
			<Representation id="v1" bandwidth="100"/>
		</AdaptationSet>
		<AdaptationSet mimeType="application/mp4" codecs="stpp">
			<SegmentTemplate media="s$Number$.m4s" duration="10"/>
			<Representation id="s1" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{DisableText: true}, mpd)
	if len(man.TextStreams) != 0 {
		t.Errorf("TextStreams = %d with text disabled", len(man.TextStreams))
	}
	if len(man.Variants) != 1 {
		t.Errorf("Variants = %d", len(man.Variants))
	}
}

const liveTemplate = `
<MPD type="dynamic" availabilityStartTime="1970-01-01T00:00:00Z" minimumUpdatePeriod="PT2S"%s>
	<Period id="1" start="PT0S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="s-$Time$.m4s">
				<SegmentTimeline>
					<S t="0" d="2" r="%d"/>
				</SegmentTimeline>
			</SegmentTemplate>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`

func liveMPD(extraAttrs string, repeat int) []byte {
	return []byte(fmt.Sprintf(liveTemplate, extraAttrs, repeat))
}

func TestLiveUpdateMergesIntoLiveIndex(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	now := epoch.Add(10 * time.Second)
	p := New(Config{Now: func() time.Time { return now }})

	m1, err := p.Parse(liveMPD("", 4), manifestURI)
	if err != nil {
		t.Fatal(err)
	}
	if m1.Timeline.Type != manifest.Dynamic {
		t.Fatal("expected a dynamic timeline")
	}
	stream := m1.Variants[0].Video
	idx := mustIndex(t, stream)
	if idx.Count() != 5 {
		t.Fatalf("initial segments = %d", idx.Count())
	}

	now = epoch.Add(20 * time.Second)
	m2, err := p.Parse(liveMPD("", 9), manifestURI)
	if err != nil {
		t.Fatal(err)
	}
	if m2.Variants[0].Video != stream {
		t.Fatal("live update must preserve stream identity")
	}
	if idx.Count() != 10 {
		t.Errorf("segments after update = %d, want 10", idx.Count())
	}
	if idx.Get(9).EndTime != 20 {
		t.Errorf("live edge = %v", idx.Get(9).EndTime)
	}
}

func TestLiveUpdateEvictsBehindWindow(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	now := epoch.Add(10 * time.Second)
	p := New(Config{Now: func() time.Time { return now }})

	m1, err := p.Parse(liveMPD("", 4), manifestURI)
	if err != nil {
		t.Fatal(err)
	}
	stream := m1.Variants[0].Video
	idx := mustIndex(t, stream)

	now = epoch.Add(12 * time.Second)
	if _, err := p.Parse(liveMPD(` timeShiftBufferDepth="PT4S"`, 5), manifestURI); err != nil {
		t.Fatal(err)
	}
	if idx.Count() != 2 {
		t.Fatalf("segments inside the window = %d, want 2", idx.Count())
	}
	if got := idx.Get(0).StartTime; got != 8 {
		t.Errorf("window start = %v, want 8", got)
	}
}

type fixedClock struct{ offset time.Duration }

func (c fixedClock) Offset(schemes []UTCTiming) (time.Duration, error) {
	return c.offset, nil
}

func TestClockSyncOffset(t *testing.T) {
	mpd := `
<MPD type="dynamic" availabilityStartTime="1970-01-01T00:00:00Z">
	<UTCTiming schemeIdUri="urn:mpeg:dash:utc:http-xsdate:2014" value="https://time.example.com"/>
	<Period id="1" start="PT0S">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="s-$Time$.m4s">
				<SegmentTimeline><S t="0" d="2" r="2"/></SegmentTimeline>
			</SegmentTemplate>
			<Representation id="v" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`
	epoch := time.Unix(0, 0).UTC()
	cfg := Config{
		Now:   func() time.Time { return epoch.Add(10 * time.Second) },
		Clock: fixedClock{offset: 5 * time.Second},
	}
	man := mustResolve(t, cfg, mpd)
	if man.Timeline.ClockOffset != 5 {
		t.Errorf("ClockOffset = %v", man.Timeline.ClockOffset)
	}
}

func TestPreprocessorHook(t *testing.T) {
	cfg := Config{
		Preprocessor: func(root *etree.Element) {
			for _, rep := range root.FindElements("//Representation") {
				rep.CreateAttr("bandwidth", "4242")
			}
		},
	}
	man := mustResolve(t, cfg, basicStatic)
	if got := man.Variants[0].Video.Bandwidth; got != 4242 {
		t.Errorf("preprocessed bandwidth = %d", got)
	}
}

type reverser struct{}

func (reverser) Prioritize(steering *SteeringInfo, urls []BaseURL) []BaseURL {
	out := make([]BaseURL, 0, len(urls))
	for i := len(urls) - 1; i >= 0; i-- {
		out = append(out, urls[i])
	}
	return out
}

func TestBaseURLPrioritizer(t *testing.T) {
	mpd := `
<MPD type="static" mediaPresentationDuration="PT10S">
	<BaseURL serviceLocation="alpha">https://alpha.example.com/</BaseURL>
	<BaseURL serviceLocation="beta">https://beta.example.com/</BaseURL>
	<Period id="1">
		<AdaptationSet contentType="video" mimeType="video/mp4">
			<SegmentTemplate media="v$Number$.m4s" duration="10"/>
			<Representation id="v1" bandwidth="100"/>
		</AdaptationSet>
	</Period>
</MPD>`
	man := mustResolve(t, Config{Prioritizer: reverser{}}, mpd)
	idx := mustIndex(t, man.Variants[0].Video)
	uris := idx.Get(0).URIs
	if len(uris) != 2 || uris[0] != "https://beta.example.com/v1.m4s" {
		t.Errorf("prioritized URIs = %v", uris)
	}
}

func TestSuggestedPresentationDelayOverrides(t *testing.T) {
	mpd := `<MPD type="static" mediaPresentationDuration="PT10S" suggestedPresentationDelay="PT6S">
		<Period id="1">
			<AdaptationSet contentType="video" mimeType="video/mp4">
				<SegmentTemplate media="v$Number$.m4s" duration="10"/>
				<Representation id="v1" bandwidth="100"/>
			</AdaptationSet>
		</Period>
	</MPD>`

	man := mustResolve(t, Config{DefaultPresentationDelay: 3}, mpd)
	if man.Timeline.PresentationDelay != 6 {
		t.Errorf("declared delay should win: %v", man.Timeline.PresentationDelay)
	}

	man = mustResolve(t, Config{DefaultPresentationDelay: 3, IgnoreSuggestedPresentationDelay: true}, mpd)
	if man.Timeline.PresentationDelay != 3 {
		t.Errorf("ignored delay should fall back to default: %v", man.Timeline.PresentationDelay)
	}
}

func TestSquashAdaptationSets(t *testing.T) {
	a := &adaptationSet{id: "1", contentType: manifest.TypeVideo, language: "en",
		streams: []*manifest.Stream{{ID: 1}}, switchingIDs: []string{"2"},
		dependencyIDs: map[int]string{}}
	b := &adaptationSet{id: "2", contentType: manifest.TypeVideo, language: "en",
		streams: []*manifest.Stream{{ID: 2}}, dependencyIDs: map[int]string{}}
	c := &adaptationSet{id: "3", contentType: manifest.TypeAudio, language: "en",
		streams: []*manifest.Stream{{ID: 3}}, switchingIDs: []string{"1"},
		dependencyIDs: map[int]string{}}

	out := squashAdaptationSets([]*adaptationSet{a, b, c})
	if len(out) != 2 {
		t.Fatalf("got %d sets, want the video pair merged", len(out))
	}
	if len(out[0].streams) != 2 {
		t.Errorf("merged set holds %d streams", len(out[0].streams))
	}
	// The cross-type switching declaration is advisory and ignored.
	if out[1].id != "3" || len(out[1].streams) != 1 {
		t.Errorf("audio set should be untouched: %+v", out[1])
	}
}
