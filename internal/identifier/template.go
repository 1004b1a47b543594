package identifier

import (
	"strings"

	apperrors "github.com/tidewise/gamepad-websocket/internal/platform/errors"
)

// Placeholder is replaced by the raw identifier in a transform template.
const Placeholder = "%1"

// ValidateTemplate accepts templates with zero or one placeholder.
func ValidateTemplate(template string) error {
	if strings.Count(template, Placeholder) > 1 {
		return apperrors.ConfigurationError("device identifier transform supports a single "+Placeholder+" placeholder").
			WithField("transform", template)
	}
	return nil
}

// Transform applies a validated template to raw. An empty template leaves raw unchanged.
func Transform(template, raw string) string {
	if template == "" {
		return raw
	}
	return strings.Replace(template, Placeholder, raw, 1)
}
