package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFQTN(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantProvider string
		wantTool     string
		wantErr      bool
	}{
		{"simple", "git:commit", "git", "commit", false},
		{"tool keeps extra colons", "db:schema:migrate", "db", "schema:migrate", false},
		{"missing separator", "gitcommit", "", "", true},
		{"empty provider", ":commit", "", "", true},
		{"empty tool", "git:", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, tool, err := ParseFQTN(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindInvalidRequest, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, provider)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func TestFormatFQTN(t *testing.T) {
	assert.Equal(t, "git:commit", FormatFQTN("git", "commit"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotConfigured, KindOf(ErrNotConfigured("x")))
	assert.Equal(t, KindCallTimeout, KindOf(ErrCallTimeout("x", "y")))
	assert.Equal(t, KindProviderUnavailable, KindOf(assert.AnError))
}
