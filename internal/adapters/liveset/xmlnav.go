package liveset

import "github.com/beevik/etree"

// The host format reuses tag names at several nesting depths, so every
// traversal is expressed as explicit direct-child hops. A "search anywhere"
// query would silently bind to the wrong element.

// Child returns the first direct child element with the given tag, or nil.
func Child(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	return el.SelectElement(tag)
}

// Children returns all direct child elements with the given tag.
func Children(el *etree.Element, tag string) []*etree.Element {
	if el == nil {
		return nil
	}
	return el.SelectElements(tag)
}

// Path follows a chain of direct-child hops, returning nil as soon as any hop
// misses.
func Path(el *etree.Element, tags ...string) *etree.Element {
	for _, tag := range tags {
		el = Child(el, tag)
		if el == nil {
			return nil
		}
	}
	return el
}

// ChildValue reads the Value attribute of a direct child, the host format's
// convention for scalar fields.
func ChildValue(el *etree.Element, tag string) (string, bool) {
	child := Child(el, tag)
	if child == nil {
		return "", false
	}
	attr := child.SelectAttr("Value")
	if attr == nil {
		return "", false
	}
	return attr.Value, true
}
