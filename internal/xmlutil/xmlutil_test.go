package xmlutil

import (
	"testing"

	"github.com/beevik/etree"
)

func mustParse(t *testing.T, s string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc.Root()
}

func TestChildrenIgnoresNamespacePrefix(t *testing.T) {
	root := mustParse(t, `
		<ContentProtection xmlns:cenc="urn:mpeg:cenc:2013" value="v">
			<cenc:pssh>AAAA</cenc:pssh>
			<pssh>BBBB</pssh>
			<other/>
		</ContentProtection>`)

	got := Children(root, "pssh")
	if len(got) != 2 {
		t.Fatalf("got %d pssh children, want 2", len(got))
	}
	if Text(got[0]) != "AAAA" || Text(got[1]) != "BBBB" {
		t.Errorf("children out of order: %q, %q", Text(got[0]), Text(got[1]))
	}
	if Child(root, "pssh") != got[0] {
		t.Error("Child should return the first match")
	}
	if Child(root, "missing") != nil {
		t.Error("Child of absent tag should be nil")
	}
}

func TestAttrValueIgnoresNamespacePrefix(t *testing.T) {
	root := mustParse(t, `
		<ContentProtection xmlns:cenc="urn:mpeg:cenc:2013"
			cenc:default_KID="abc" schemeIdUri="urn:x"/>`)

	if v := AttrValue(root, "default_KID"); v != "abc" {
		t.Errorf("default_KID = %q, want abc", v)
	}
	if v := AttrValue(root, "schemeIdUri"); v != "urn:x" {
		t.Errorf("schemeIdUri = %q", v)
	}
	if AttrValue(root, "missing") != "" {
		t.Error("absent attribute should be empty")
	}
}

func TestNilElementHelpers(t *testing.T) {
	if Children(nil, "x") != nil || Child(nil, "x") != nil {
		t.Error("nil element should yield no children")
	}
	if AttrValue(nil, "x") != "" || Text(nil) != "" {
		t.Error("nil element helpers should be zero-valued")
	}
}
