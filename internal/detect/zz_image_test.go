package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxlensHQ/uxlens/internal/telemetry"
)

func TestBrokenImage_ErrorEventReportsOnce(t *testing.T) {
	doc := buildDoc(t,
		node("body", "", "body", nil),
		telemetry.NodeDescriptor{ID: "img1", ParentID: "body", Tag: "img",
			Attrs: map[string]string{"src": "/missing.png", "alt": "hero"}},
	)

	var issues []*Issue
	b := NewBrokenImage(func(i *Issue) { issues = append(issues, i) })

	img := doc.Node("img1")
	b.OnError(img, 1000)
	b.OnError(img, 2000)

	require.Len(t, issues, 1)
	assert.Equal(t, IssueBrokenImage, issues[0].Type)
	assert.Equal(t, "/missing.png", issues[0].Metadata["src"])
	assert.Equal(t, "hero", issues[0].Metadata["alt"])
	assert.Equal(t, "error_event", issues[0].Metadata["detectedVia"])
}

func TestBrokenImage_VerificationPass(t *testing.T) {
	doc := buildDoc(t,
		node("body", "", "body", nil),
		// Settled broken: complete with zero natural width.
		telemetry.NodeDescriptor{ID: "broken", ParentID: "body", Tag: "img",
			Attrs: map[string]string{"src": "/missing.png"}, Complete: true},
		// Healthy image.
		telemetry.NodeDescriptor{ID: "fine", ParentID: "body", Tag: "img",
			Attrs: map[string]string{"src": "/logo.png"}, Complete: true, NaturalWidth: 120},
		// Placeholder frameworks render before swapping in a source.
		telemetry.NodeDescriptor{ID: "srcless", ParentID: "body", Tag: "img", Attrs: map[string]string{}},
		// Still loading: not complete, must not be flagged.
		telemetry.NodeDescriptor{ID: "loading", ParentID: "body", Tag: "img",
			Attrs: map[string]string{"src": "/slow.png"}},
	)

	var reported []string
	b := NewBrokenImage(func(i *Issue) { reported = append(reported, i.Node.ID) })

	b.Verify(doc, time.Now())
	assert.ElementsMatch(t, []string{"broken", "srcless"}, reported)
}

func TestBrokenImage_RescanNeverDuplicates(t *testing.T) {
	doc := buildDoc(t,
		node("body", "", "body", nil),
		telemetry.NodeDescriptor{ID: "img1", ParentID: "body", Tag: "img",
			Attrs: map[string]string{"src": "/missing.png"}, Complete: true},
	)

	fired := 0
	b := NewBrokenImage(func(*Issue) { fired++ })

	b.OnError(doc.Node("img1"), 1000)
	// A later mutation re-runs both mechanisms over the same node.
	b.Verify(doc, time.Now())
	b.Verify(doc, time.Now())

	assert.Equal(t, 1, fired)
}

func TestBrokenImage_NonImageIgnored(t *testing.T) {
	doc := buildDoc(t,
		node("body", "", "body", nil),
		node("div1", "body", "div", nil),
	)

	fired := 0
	b := NewBrokenImage(func(*Issue) { fired++ })
	b.OnError(doc.Node("div1"), 1000)
	b.OnError(nil, 1000)
	assert.Zero(t, fired)
}

func TestBrokenImage_ForgetAllowsReReportAfterReattach(t *testing.T) {
	doc := buildDoc(t,
		node("body", "", "body", nil),
		telemetry.NodeDescriptor{ID: "img1", ParentID: "body", Tag: "img",
			Attrs: map[string]string{"src": "/missing.png"}},
	)

	fired := 0
	b := NewBrokenImage(func(*Issue) { fired++ })
	b.OnError(doc.Node("img1"), 1000)
	require.Equal(t, 1, fired)

	b.Forget([]string{"img1"})
	b.OnError(doc.Node("img1"), 2000)
	assert.Equal(t, 2, fired)
}
