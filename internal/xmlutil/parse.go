package xmlutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRe = regexp.MustCompile(
	`^(-)?P(?:([0-9]*)Y)?(?:([0-9]*)M)?(?:([0-9]*)D)?` +
		`(?:T(?:([0-9]*)H)?(?:([0-9]*)M)?(?:([0-9.]*)S)?)?$`)

// ParseDuration parses an xs:duration string ("PT1M30.5S") into seconds.
// Years count as 365 days and months as 30, matching common player practice
// for the coarse fields that rarely appear in manifests.
func ParseDuration(s string) (float64, bool) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, false
	}
	part := func(i int) float64 {
		if m[i] == "" {
			return 0
		}
		v, err := strconv.ParseFloat(m[i], 64)
		if err != nil {
			return 0
		}
		return v
	}
	d := part(2)*365*86400 +
		part(3)*30*86400 +
		part(4)*86400 +
		part(5)*3600 +
		part(6)*60 +
		part(7)
	if m[1] == "-" {
		d = -d
	}
	return d, true
}

// ParseDate parses an xs:dateTime attribute. Values without an explicit
// timezone are interpreted as UTC.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseRange parses a byte-range attribute of the form "first-last" or the
// open-ended "first-". The returned last pointer is nil for open ranges.
func ParseRange(s string) (first int64, last *int64, ok bool) {
	dash := strings.Index(s, "-")
	if dash <= 0 {
		return 0, nil, false
	}
	first, err := strconv.ParseInt(s[:dash], 10, 64)
	if err != nil || first < 0 {
		return 0, nil, false
	}
	rest := s[dash+1:]
	if rest == "" {
		return first, nil, true
	}
	end, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || end < first {
		return 0, nil, false
	}
	return first, &end, true
}

// ParseNonNegativeInt parses a base-10 integer attribute, rejecting
// negative values.
func ParseNonNegativeInt(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// ParseInt parses a base-10 integer attribute.
func ParseInt(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseFloat parses a floating-point attribute.
func ParseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseFrameRate parses a frameRate attribute, either a plain number
// ("30") or a fraction ("30000/1001").
func ParseFrameRate(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, "/") {
		return ParseFloat(s)
	}
	parts := strings.SplitN(s, "/", 2)
	num, ok1 := ParseFloat(parts[0])
	den, ok2 := ParseFloat(parts[1])
	if !ok1 || !ok2 || den == 0 {
		return 0, false
	}
	return num / den, true
}

// SplitList splits a whitespace-separated attribute value into its items.
func SplitList(s string) []string {
	return strings.Fields(s)
}

// TemplateVars carries the substitution values for FillTemplate. Nil
// pointers leave the corresponding identifier untouched.
type TemplateVars struct {
	RepresentationID *string
	Number           *int64
	SubNumber        *int64
	Bandwidth        *int64
	Time             *int64
}

var templateRe = regexp.MustCompile(`\$(RepresentationID|Number|SubNumber|Bandwidth|Time)?(?:%0([0-9]+)d)?\$`)

// FillTemplate substitutes MPD URL-template identifiers
// ($RepresentationID$, $Number$, $SubNumber$, $Bandwidth$, $Time$, $$)
// including printf-style width forms like $Number%05d$.
func FillTemplate(tpl string, vars TemplateVars) string {
	return templateRe.ReplaceAllStringFunc(tpl, func(match string) string {
		m := templateRe.FindStringSubmatch(match)
		name, width := m[1], m[2]
		if name == "" {
			// "$$" is an escaped dollar sign.
			return "$"
		}
		var value *int64
		switch name {
		case "RepresentationID":
			if vars.RepresentationID == nil {
				return match
			}
			// Width specifiers do not apply to representation IDs.
			return *vars.RepresentationID
		case "Number":
			value = vars.Number
		case "SubNumber":
			value = vars.SubNumber
		case "Bandwidth":
			value = vars.Bandwidth
		case "Time":
			value = vars.Time
		}
		if value == nil {
			return match
		}
		if width == "" {
			return strconv.FormatInt(*value, 10)
		}
		w, _ := strconv.Atoi(width)
		return fmt.Sprintf("%0*d", w, *value)
	})
}

// ResolveURIs resolves relative against each base URI in order and returns
// the expansions. Unparseable bases fall back to naive concatenation so a
// bad manifest still yields a usable-looking URL.
func ResolveURIs(bases []string, relative string) []string {
	if relative == "" {
		out := make([]string, len(bases))
		copy(out, bases)
		return out
	}
	if len(bases) == 0 {
		return []string{relative}
	}
	out := make([]string, 0, len(bases))
	for _, base := range bases {
		out = append(out, resolveOne(base, relative))
	}
	return out
}

func resolveOne(base, relative string) string {
	rel, err := url.Parse(relative)
	if err != nil {
		return relative
	}
	if rel.IsAbs() {
		return relative
	}
	b, err := url.Parse(base)
	if err != nil {
		if !strings.HasSuffix(base, "/") {
			if i := strings.LastIndex(base, "/"); i >= 0 {
				base = base[:i+1]
			}
		}
		return base + relative
	}
	return b.ResolveReference(rel).String()
}
