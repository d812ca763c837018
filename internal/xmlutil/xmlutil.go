// Package xmlutil provides namespace-tolerant helpers over an etree element
// tree plus parsers for the scalar value formats used by MPD documents
// (ISO-8601 durations, byte ranges, frame rates, URL templates).
package xmlutil

import (
	"strings"

	"github.com/beevik/etree"
)

// Children returns the child elements of el whose local tag name matches
// local, regardless of namespace prefix.
func Children(el *etree.Element, local string) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first child element of el with the given local tag name,
// or nil if there is none.
func Child(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

// AttrValue returns the value of the attribute with the given local key,
// regardless of namespace prefix, or "" if the attribute is absent.
func AttrValue(el *etree.Element, local string) string {
	if el == nil {
		return ""
	}
	for _, a := range el.Attr {
		if a.Key == local {
			return a.Value
		}
	}
	return ""
}

// Text returns the trimmed character content of el.
func Text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
