package tracker

import (
	"strings"
	"time"

	"github.com/uxlensHQ/uxlens/internal/buffers"
	"github.com/uxlensHQ/uxlens/internal/detect"
)

// feedbackPayload assembles the wire shape of a ux_feedback event: the
// issue, the user's message, and the diagnostic context captured on the way.
func feedbackPayload(issue *detect.Issue, message, pageURL, userAgent, snapshot string,
	timeOnPage time.Duration, crumbs []buffers.Breadcrumb, errs []buffers.ErrorRecord) map[string]interface{} {

	consoleErrors := make([]map[string]interface{}, 0, len(errs))
	for _, e := range errs {
		consoleErrors = append(consoleErrors, map[string]interface{}{
			"message":   e.Message,
			"source":    e.Source,
			"line":      e.Line,
			"timestamp": e.Timestamp.UnixMilli(),
		})
	}
	breadcrumbs := make([]map[string]interface{}, 0, len(crumbs))
	for _, b := range crumbs {
		breadcrumbs = append(breadcrumbs, map[string]interface{}{
			"action":    b.Action,
			"target":    b.Target,
			"timestamp": b.Timestamp.UnixMilli(),
		})
	}

	return map[string]interface{}{
		"issueType":     string(issue.Type),
		"issueSeverity": string(issue.Severity),
		"issueSelector": issue.Selector,
		"message":       message,
		"pageUrl":       pageURL,
		"deviceType":    deviceType(userAgent),
		"browserName":   browserName(userAgent),
		"timeOnPage":    timeOnPage.Milliseconds(),
		"domSnapshot":   snapshot,
		"consoleErrors": consoleErrors,
		"breadcrumbs":   breadcrumbs,
	}
}

func deviceType(ua string) string {
	switch {
	case strings.Contains(ua, "iPad") || strings.Contains(ua, "Tablet"):
		return "tablet"
	case strings.Contains(ua, "Mobi") || strings.Contains(ua, "Android"):
		return "mobile"
	default:
		return "desktop"
	}
}

func browserName(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"):
		return "Edge"
	case strings.Contains(ua, "OPR/") || strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "Chrome/"):
		return "Chrome"
	case strings.Contains(ua, "Firefox/"):
		return "Firefox"
	case strings.Contains(ua, "Safari/"):
		return "Safari"
	default:
		return "Unknown"
	}
}
