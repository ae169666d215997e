package liveset

import (
	"testing"

	"github.com/beevik/etree"
)

func parseFragment(t *testing.T, xml string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc.Root()
}

func TestPathFollowsDirectChildrenOnly(t *testing.T) {
	root := parseFragment(t, `<A><B><C Value="deep"/></B><C Value="shallow"/></A>`)
	if el := Path(root, "B", "C"); el == nil || el.SelectAttrValue("Value", "") != "deep" {
		t.Fatalf("expected the nested C, got %v", el)
	}
	// C exists two levels down under B, but not directly under A > B > B.
	if el := Path(root, "B", "B", "C"); el != nil {
		t.Fatalf("missing hop must yield nil, got %v", el)
	}
	if el := Path(nil, "B"); el != nil {
		t.Fatalf("nil root must yield nil")
	}
}

func TestChildValueReadsValueAttribute(t *testing.T) {
	root := parseFragment(t, `<A><Name Value="T3 Mute"/><Bare/></A>`)
	if v, ok := ChildValue(root, "Name"); !ok || v != "T3 Mute" {
		t.Fatalf("expected T3 Mute, got %q ok=%v", v, ok)
	}
	if _, ok := ChildValue(root, "Bare"); ok {
		t.Fatalf("child without Value attribute must not resolve")
	}
	if _, ok := ChildValue(root, "Missing"); ok {
		t.Fatalf("missing child must not resolve")
	}
}
