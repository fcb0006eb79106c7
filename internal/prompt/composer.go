package prompt

import (
	"fmt"
	"strings"
)

// Style enumerates the supported video styles.
type Style string

const (
	StyleProductShowcase Style = "PRODUCT_SHOWCASE"
	StyleTalkingHead     Style = "TALKING_HEAD"
	StyleLifestyle       Style = "LIFESTYLE"
)

// ParseStyle validates a raw style tag.
func ParseStyle(raw string) (Style, error) {
	style := Style(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := styleTemplates[style]; !ok {
		return "", fmt.Errorf("unsupported style %q", raw)
	}
	return style, nil
}

// styleTemplates maps each style to its prompt preamble builder.
var styleTemplates = map[Style]func() string{
	StyleProductShowcase: func() string {
		return "Cinematic product showcase video. Slow orbiting camera around the product on a clean studio set, " +
			"soft key lighting, shallow depth of field, premium commercial look."
	},
	StyleTalkingHead: func() string {
		return "Talking-head presenter video. A friendly spokesperson facing the camera in a bright modern studio, " +
			"natural gestures, the product visible beside them, direct and trustworthy tone."
	},
	StyleLifestyle: func() string {
		return "Lifestyle commercial video. Real people using the product in an everyday setting, warm natural light, " +
			"handheld camera energy, aspirational but authentic mood."
	},
}

// Compose deterministically builds the generation prompt from the style
// preamble, the confirmed script, and an optional product visual summary.
// It performs no I/O.
func Compose(style Style, script, visualSummary string) (string, error) {
	template, ok := styleTemplates[style]
	if !ok {
		return "", fmt.Errorf("unsupported style %q", style)
	}
	parts := []string{template()}
	if script = strings.TrimSpace(script); script != "" {
		parts = append(parts, "Narration script: "+script)
	}
	if summary := strings.TrimSpace(visualSummary); summary != "" {
		parts = append(parts, "Match the product's real appearance exactly: "+summary+
			" Do not alter the product's shape, colors, branding, or proportions.")
	}
	return strings.Join(parts, " "), nil
}

// Styles lists the supported style tags in a stable order.
func Styles() []Style {
	return []Style{StyleProductShowcase, StyleTalkingHead, StyleLifestyle}
}
