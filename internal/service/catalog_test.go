package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadActionCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
packs:
  - name: crm
    actions:
      - key: crm.contacts.export
        label: Export contacts
        description: Download contacts as CSV
        default_enabled: true
  - name: billing
    actions:
      - key: billing.refund
        label: Refund
`), 0o600))

	catalog, err := LoadActionCatalog(path)
	require.NoError(t, err)

	actions := catalog.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "crm", actions[0].PackName)
	assert.Equal(t, "Download contacts as CSV", actions[0].Description)
	assert.True(t, actions[0].DefaultEnabled)
	assert.Equal(t, "billing", actions[1].PackName)
	assert.False(t, actions[1].DefaultEnabled)
}

func TestParseActionCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "packs: [unterminated"},
		{"pack without name", "packs:\n  - actions:\n      - key: a.b\n"},
		{"action without key", "packs:\n  - name: crm\n    actions:\n      - label: nothing\n"},
		{"duplicate key", "packs:\n  - name: crm\n    actions:\n      - key: a.b\n  - name: other\n    actions:\n      - key: a.b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseActionCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadActionCatalog_MissingFile(t *testing.T) {
	_, err := LoadActionCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
