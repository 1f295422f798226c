package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxlensHQ/uxlens/internal/telemetry"
)

func desc(id, parent, tag string, attrs map[string]string) telemetry.NodeDescriptor {
	return telemetry.NodeDescriptor{ID: id, ParentID: parent, Tag: tag, Attrs: attrs}
}

func readyEvent(nodes ...telemetry.NodeDescriptor) *telemetry.PageEvent {
	return &telemetry.PageEvent{
		Type:      telemetry.EventDOMReady,
		URL:       "https://shop.example/checkout",
		UserAgent: "Mozilla/5.0",
		Viewport:  &telemetry.Rect{Width: 1280, Height: 800},
		Added:     nodes,
	}
}

func TestDocument_ApplyBuildsTree(t *testing.T) {
	d := NewDocument()
	removed := d.Apply(readyEvent(
		desc("n1", "", "body", nil),
		desc("n2", "n1", "main", nil),
		desc("n3", "n2", "button", map[string]string{"id": "buy"}),
	))

	require.Empty(t, removed)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, "https://shop.example/checkout", d.URL)

	btn := d.Node("n3")
	require.NotNil(t, btn)
	assert.Equal(t, "BUTTON", btn.Tag)
	require.NotNil(t, btn.Parent)
	assert.Equal(t, "MAIN", btn.Parent.Tag)
}

func TestDocument_OutOfOrderBatchStillLinks(t *testing.T) {
	d := NewDocument()
	// Child descriptor precedes its parent in the same mutation batch.
	d.Apply(&telemetry.PageEvent{Type: telemetry.EventMutation, Added: []telemetry.NodeDescriptor{
		desc("c", "p", "span", nil),
		desc("p", "", "div", nil),
	}})

	c := d.Node("c")
	require.NotNil(t, c)
	require.NotNil(t, c.Parent)
	assert.Equal(t, "p", c.Parent.ID)
}

func TestDocument_DetachSweepsSubtree(t *testing.T) {
	d := NewDocument()
	d.Apply(readyEvent(
		desc("n1", "", "body", nil),
		desc("n2", "n1", "div", nil),
		desc("n3", "n2", "a", map[string]string{"href": "/pricing"}),
		desc("n4", "n1", "footer", nil),
	))

	removed := d.Apply(&telemetry.PageEvent{
		Type:    telemetry.EventMutation,
		Removed: []string{"n2"},
	})

	assert.ElementsMatch(t, []string{"n2", "n3"}, removed)
	assert.Nil(t, d.Node("n3"))
	assert.Equal(t, []string{"n1", "n4"}, d.IDs())
	assert.Empty(t, d.Anchors())
}

func TestDocument_AnchorsAndImages(t *testing.T) {
	d := NewDocument()
	d.Apply(readyEvent(
		desc("n1", "", "body", nil),
		desc("n2", "n1", "a", map[string]string{"href": "/docs"}),
		desc("n3", "n1", "a", nil), // no href, skipped
		desc("n4", "n1", "img", map[string]string{"src": "/logo.png"}),
	))

	anchors := d.Anchors()
	require.Len(t, anchors, 1)
	assert.Equal(t, "/docs", anchors[0].Attr("href"))

	require.Len(t, d.Images(), 1)
}

func TestDocument_AttrChangeDoesNotResurrect(t *testing.T) {
	d := NewDocument()
	d.Apply(readyEvent(desc("n1", "", "body", nil)))

	d.Apply(&telemetry.PageEvent{
		Type:         telemetry.EventMutation,
		AttrsChanged: []telemetry.NodeDescriptor{desc("ghost", "", "div", nil)},
	})

	assert.Nil(t, d.Node("ghost"))
	assert.Equal(t, 1, d.Len())
}

func TestInteractiveAncestor(t *testing.T) {
	d := NewDocument()
	d.Apply(readyEvent(
		desc("body", "", "body", nil),
		desc("card", "body", "div", nil),
		desc("btn", "card", "button", nil),
		desc("icon", "btn", "span", nil),
	))

	assert.Equal(t, "btn", InteractiveAncestor(d.Node("icon")).ID)
	assert.Equal(t, "btn", InteractiveAncestor(d.Node("btn")).ID)
	assert.Nil(t, InteractiveAncestor(d.Node("card")))
}

func TestIsInteractive_CursorOwnership(t *testing.T) {
	pointer := map[string]string{"cursor": "pointer"}

	owner := &Node{Tag: "DIV", Style: pointer, CursorOwn: true}
	inheritor := &Node{Tag: "DIV", Style: pointer, CursorOwn: false, Parent: owner}

	assert.True(t, IsInteractive(owner))
	// The descendant inherits pointer styling; detection must attribute the
	// affordance to the ancestor that set it.
	assert.False(t, IsInteractive(inheritor))
	assert.Equal(t, owner, InteractiveAncestor(inheritor))
}

func TestIsInteractive_RolesAndTabindex(t *testing.T) {
	assert.True(t, IsInteractive(&Node{Tag: "DIV", Attrs: map[string]string{"role": "button"}}))
	assert.True(t, IsInteractive(&Node{Tag: "DIV", Attrs: map[string]string{"tabindex": "0"}}))
	assert.True(t, IsInteractive(&Node{Tag: "A", Attrs: map[string]string{"href": "/x"}}))
	assert.False(t, IsInteractive(&Node{Tag: "A"}))
	assert.False(t, IsInteractive(&Node{Tag: "P"}))
}

func TestIsTextField(t *testing.T) {
	assert.True(t, IsTextField(&Node{Tag: "TEXTAREA"}))
	assert.True(t, IsTextField(&Node{Tag: "INPUT"}))
	assert.True(t, IsTextField(&Node{Tag: "INPUT", Attrs: map[string]string{"type": "Email"}}))
	assert.False(t, IsTextField(&Node{Tag: "INPUT", Attrs: map[string]string{"type": "checkbox"}}))
	assert.False(t, IsTextField(&Node{Tag: "DIV"}))
}
