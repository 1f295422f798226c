package tracker

import (
	"strconv"
	"strings"
	"time"

	"github.com/uxlensHQ/uxlens/internal/popover"
)

// Options is the per-session tracker configuration. The zero value is not
// useful; obtain one from DefaultOptions or OptionsFromScriptAttrs.
type Options struct {
	ProjectID string
	APIURL    string

	RageClick       bool
	DeadLink        bool
	BrokenImage     bool
	FormFrustration bool

	Popover         bool
	PopoverTheme    string // dark | light
	MaxPopups       int
	PopoverCooldown time.Duration

	Debug bool
}

// DefaultOptions enables every detector and the feedback popover.
func DefaultOptions(projectID, apiURL string) Options {
	return Options{
		ProjectID:       projectID,
		APIURL:          apiURL,
		RageClick:       true,
		DeadLink:        true,
		BrokenImage:     true,
		FormFrustration: true,
		Popover:         true,
		PopoverTheme:    "dark",
		MaxPopups:       popover.DefaultMaxPerSession,
		PopoverCooldown: popover.DefaultCooldown,
	}
}

// OptionsFromScriptAttrs builds Options from the data-attributes of the
// embedding <script> tag. Unknown attributes are ignored; malformed values
// fall back to defaults rather than failing initialization.
func OptionsFromScriptAttrs(attrs map[string]string) Options {
	opts := DefaultOptions(attrs["data-project-id"], attrs["data-api-url"])

	opts.RageClick = attrBool(attrs, "data-rage-click", opts.RageClick)
	opts.DeadLink = attrBool(attrs, "data-dead-link", opts.DeadLink)
	opts.BrokenImage = attrBool(attrs, "data-broken-image", opts.BrokenImage)
	opts.FormFrustration = attrBool(attrs, "data-form-frustration", opts.FormFrustration)
	opts.Popover = attrBool(attrs, "data-popover", opts.Popover)
	opts.Debug = attrBool(attrs, "data-debug", false)

	if theme := attrs["data-popover-theme"]; theme == "light" || theme == "dark" {
		opts.PopoverTheme = theme
	}
	if v := attrs["data-max-popups"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxPopups = n
		}
	}
	if v := attrs["data-popover-cooldown"]; v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			opts.PopoverCooldown = time.Duration(ms) * time.Millisecond
		}
	}
	return opts
}

func attrBool(attrs map[string]string, key string, def bool) bool {
	v, ok := attrs[key]
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}
