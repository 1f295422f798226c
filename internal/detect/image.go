package detect

import (
	"time"

	"github.com/uxlensHQ/uxlens/internal/dom"
)

// BrokenImage reports images that failed to load. The primary signal is the
// shim's native error event; a single verification pass shortly after page
// load catches images that silently settled broken (complete with zero
// natural width, or no src at all). Both paths share one reported set so a
// node is never reported twice, and mutation rescans never double-bind.
//
// The two-path design exists because a bare naturalWidth check fires false
// positives on placeholder images frameworks render before swapping in the
// real source; the post-load delay lets late hydration finish first.
type BrokenImage struct {
	reported map[string]bool
	handler  Handler
}

// NewBrokenImage constructs the detector.
func NewBrokenImage(handler Handler) *BrokenImage {
	return &BrokenImage{
		reported: make(map[string]bool),
		handler:  handler,
	}
}

// OnError handles a native image error event.
func (b *BrokenImage) OnError(img *dom.Node, ts int64) {
	if img == nil || img.Tag != "IMG" {
		return
	}
	b.report(img, "error_event", time.UnixMilli(ts))
}

// Verify runs the secondary pass over every mirrored image. Safe to call
// repeatedly: already-reported nodes are skipped.
func (b *BrokenImage) Verify(doc *dom.Document, now time.Time) {
	for _, img := range doc.Images() {
		src := img.Attr("src")
		switch {
		case src == "":
			b.report(img, "missing_src", now)
		case img.Complete && img.NaturalWidth == 0:
			b.report(img, "verification", now)
		}
	}
}

// Forget drops state for detached nodes.
func (b *BrokenImage) Forget(ids []string) {
	for _, id := range ids {
		delete(b.reported, id)
	}
}

func (b *BrokenImage) report(img *dom.Node, path string, ts time.Time) {
	if b.reported[img.ID] {
		return
	}
	b.reported[img.ID] = true

	issue := newIssue(IssueBrokenImage, SeverityMedium, img, ts)
	issue.URL = img.Attr("src")
	issue.Metadata["src"] = img.Attr("src")
	issue.Metadata["alt"] = img.Attr("alt")
	issue.Metadata["detectedVia"] = path

	b.handler(issue)
}
