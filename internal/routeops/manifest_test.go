package routeops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
)

type fakeLister struct {
	calls map[appliance.Kind]int
	res   map[appliance.Kind][]appliance.Resource
}

func (f *fakeLister) List(_ context.Context, kind appliance.Kind) ([]appliance.Resource, error) {
	f.calls[kind]++
	return f.res[kind], nil
}

const sampleManifest = `continue_on_error: true
items:
  - file: maps/core.csv
    kind: digitmap
    name: core.csv
  - file: /abs/new.def
    kind: df
  - kind: definition
    action: delete
    id: "9"
  - file: maps/edge.csv
    kind: dm
    action: update
    name: edge.csv
`

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o600))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	require.NotNil(t, m.ContinueOnError)
	assert.True(t, *m.ContinueOnError)
	require.Len(t, m.Items, 4)

	assert.Equal(t, appliance.KindDigitMap, m.Items[0].Kind)
	assert.Equal(t, appliance.ActionUpdate, m.Items[0].Action, "a named item defaults to update")
	assert.Equal(t, filepath.Join(dir, "maps/core.csv"), m.Items[0].File)

	assert.Equal(t, appliance.KindDefinition, m.Items[1].Kind)
	assert.Equal(t, appliance.ActionCreate, m.Items[1].Action)
	assert.Equal(t, "/abs/new.def", m.Items[1].File)

	assert.Equal(t, appliance.ActionDelete, m.Items[2].Action)
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty items", "items: []\n", "no items"},
		{"unknown field", "items:\n  - file: a\n    kind: dm\n    colour: red\n", "colour"},
		{"bad kind", "items:\n  - file: a\n    kind: spreadsheet\n", "unknown resource kind"},
		{"bad action", "items:\n  - file: a\n    kind: dm\n    action: rename\n", "unknown action"},
		{"missing kind", "items:\n  - file: a\n", "kind is required"},
		{"update without file", "items:\n  - kind: dm\n    id: '3'\n", "update needs a file"},
		{"delete without id", "items:\n  - kind: dm\n    action: delete\n", "delete needs an id or a name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseManifest_ReportsEveryItem(t *testing.T) {
	_, err := ParseManifest([]byte("items:\n  - kind: dm\n  - file: b\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 1: create needs a file")
	assert.Contains(t, err.Error(), "item 2: kind is required")
}

func TestManifest_BatchItems(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest), "/base")
	require.NoError(t, err)

	lister := &fakeLister{
		calls: map[appliance.Kind]int{},
		res: map[appliance.Kind][]appliance.Resource{
			appliance.KindDigitMap: {
				{Kind: appliance.KindDigitMap, RemoteID: "17", DisplayName: "core.csv"},
				{Kind: appliance.KindDigitMap, RemoteID: "18", DisplayName: "edge.csv"},
			},
		},
	}

	items, err := m.BatchItems(context.Background(), lister)
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, "17", items[0].Operation.RecordID)
	assert.Equal(t, "/base/maps/core.csv", items[0].Path)
	assert.Empty(t, items[1].Operation.RecordID)
	assert.Equal(t, "9", items[2].Operation.RecordID)
	assert.Equal(t, "18", items[3].Operation.RecordID)

	assert.Equal(t, 1, lister.calls[appliance.KindDigitMap], "one listing per kind")
	assert.Zero(t, lister.calls[appliance.KindDefinition])
}

func TestManifest_BatchItemsUnknownName(t *testing.T) {
	m, err := ParseManifest([]byte("items:\n  - file: a.csv\n    kind: dm\n    name: ghost.csv\n"), "")
	require.NoError(t, err)

	lister := &fakeLister{calls: map[appliance.Kind]int{}, res: map[appliance.Kind][]appliance.Resource{}}

	_, err = m.BatchItems(context.Background(), lister)
	require.Error(t, err)
	assert.ErrorIs(t, err, appliance.ErrNotFound)
	assert.Contains(t, err.Error(), "ghost.csv")
}
