package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/tidewise/gamepad-websocket/internal/platform/errors"
)

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  bool
	}{
		{"empty", "", false},
		{"no placeholder", "gamepad", false},
		{"single placeholder", "js-%1", false},
		{"placeholder only", "%1", false},
		{"two placeholders", "%1-%1", true},
		{"adjacent placeholders", "%1%1", true},
		{"three placeholders", "a%1b%1c%1", true},
		{"other percent tokens", "%2-%1-%d", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTemplate(tt.template)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err))
		})
	}
}

func TestTransform(t *testing.T) {
	tests := []struct {
		name     string
		template string
		raw      string
		want     string
	}{
		{"empty template keeps raw", "", "js", "js"},
		{"prefix", "gamepad-%1", "js", "gamepad-js"},
		{"suffix", "%1/left", "js", "js/left"},
		{"no placeholder replaces raw", "fixed", "js", "fixed"},
		{"empty raw", "id:%1", "", "id:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transform(tt.template, tt.raw))
		})
	}
}
