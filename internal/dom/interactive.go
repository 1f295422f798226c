package dom

import "strings"

var interactiveTags = map[string]bool{
	"BUTTON":   true,
	"SELECT":   true,
	"TEXTAREA": true,
	"INPUT":    true,
	"SUMMARY":  true,
	"DETAILS":  true,
	"LABEL":    true,
}

var interactiveRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"tab":      true,
	"menuitem": true,
	"checkbox": true,
	"radio":    true,
	"switch":   true,
	"option":   true,
}

// IsInteractive reports whether a single element counts as an interaction
// target: native interactive tags, anchors with an href, interactive ARIA
// roles, an explicit tabindex, or a cursor:pointer the element sets itself.
// The CursorOwn guard keeps a descendant that merely inherits pointer
// styling from claiming its ancestor's affordance.
func IsInteractive(n *Node) bool {
	if n == nil {
		return false
	}
	if interactiveTags[n.Tag] {
		return true
	}
	if n.Tag == "A" && n.Attr("href") != "" {
		return true
	}
	if interactiveRoles[strings.ToLower(n.Attr("role"))] {
		return true
	}
	if n.Attr("tabindex") != "" {
		return true
	}
	if n.Style != nil && n.Style["cursor"] == "pointer" && n.CursorOwn {
		return true
	}
	return false
}

// InteractiveAncestor walks up from the click target to the nearest element
// satisfying IsInteractive, the target itself included. Returns nil when no
// ancestor qualifies.
func InteractiveAncestor(n *Node) *Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if IsInteractive(cur) {
			return cur
		}
	}
	return nil
}

// textFieldTypes are the <input> types the form-frustration detector cares
// about. An absent type attribute defaults to "text".
var textFieldTypes = map[string]bool{
	"":         true,
	"text":     true,
	"search":   true,
	"email":    true,
	"url":      true,
	"tel":      true,
	"password": true,
	"number":   true,
}

// IsTextField reports whether the element is a text-like form field.
func IsTextField(n *Node) bool {
	if n == nil {
		return false
	}
	switch n.Tag {
	case "TEXTAREA":
		return true
	case "INPUT":
		return textFieldTypes[strings.ToLower(n.Attr("type"))]
	}
	return false
}
