package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
)

// stubLister serves one canned listing and counts calls.
type stubLister struct {
	resources []appliance.Resource
	err       error
	calls     int
}

func (s *stubLister) List(context.Context, appliance.Kind) ([]appliance.Resource, error) {
	s.calls++
	return s.resources, s.err
}

func TestResolveRecord_NumericIDSkipsListing(t *testing.T) {
	l := &stubLister{}

	id, err := resolveRecord(context.Background(), l, appliance.KindDigitMap, "17")
	require.NoError(t, err)
	assert.Equal(t, "17", id)
	assert.Zero(t, l.calls)
}

func TestResolveRecord_ByName(t *testing.T) {
	l := &stubLister{resources: []appliance.Resource{
		{Kind: appliance.KindDigitMap, RemoteID: "4", DisplayName: "core.csv"},
		{Kind: appliance.KindDigitMap, RemoteID: "9", DisplayName: "edge.csv"},
	}}

	id, err := resolveRecord(context.Background(), l, appliance.KindDigitMap, "edge.csv")
	require.NoError(t, err)
	assert.Equal(t, "9", id)
	assert.Equal(t, 1, l.calls)
}

func TestResolveRecord_UnknownName(t *testing.T) {
	l := &stubLister{}

	_, err := resolveRecord(context.Background(), l, appliance.KindDefinition, "missing.def")
	require.Error(t, err)
	assert.ErrorIs(t, err, appliance.ErrNotFound)
	assert.Contains(t, err.Error(), `"missing.def"`)
}

func TestResolveRecord_ListingError(t *testing.T) {
	boom := errors.New("connection refused")
	l := &stubLister{err: boom}

	_, err := resolveRecord(context.Background(), l, appliance.KindDefinition, "core.def")
	assert.ErrorIs(t, err, boom)
}

func TestLs_TableSortedByKindThenName(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)
	fa.add(appliance.KindDigitMap, "zeta.csv", "z")
	fa.add(appliance.KindDigitMap, "alpha.csv", "a")
	fa.add(appliance.KindDefinition, "core.def", "d")

	res := runCLI(t, "", fakeArgs(t, fa, "ls")...)
	require.NoError(t, res.err)

	lines := nonEmptyLines(res.stdout)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "KIND")
	assert.Contains(t, lines[1], "core.def")
	assert.Contains(t, lines[2], "alpha.csv")
	assert.Contains(t, lines[3], "zeta.csv")
}

func TestLs_JSONFilteredByKind(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)
	id := fa.add(appliance.KindDigitMap, "core.csv", "1")
	fa.add(appliance.KindDefinition, "core.def", "d")

	res := runCLI(t, "", fakeArgs(t, fa, "--json", "ls", "--kind", "digitmap")...)
	require.NoError(t, res.err)

	var rows []resourceRow
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, resourceRow{Kind: appliance.KindDigitMap, ID: id, Name: "core.csv"}, rows[0])
}

func TestLs_EmptyJSONIsArray(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)

	res := runCLI(t, "", fakeArgs(t, fa, "--json", "ls")...)
	require.NoError(t, res.err)
	assert.JSONEq(t, "[]", res.stdout)
}

func TestLs_BadKind(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)

	res := runCLI(t, "", fakeArgs(t, fa, "ls", "--kind", "ringtone")...)
	require.Error(t, res.err)
}

func TestExport_ToStdoutAndFile(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)
	fa.add(appliance.KindDefinition, "core.def", "route 1\nroute 2\n")

	res := runCLI(t, "", fakeArgs(t, fa, "export", "definition", "core.def")...)
	require.NoError(t, res.err)
	assert.Equal(t, "route 1\nroute 2\n", res.stdout)

	dest := filepath.Join(t.TempDir(), "out.def")
	res = runCLI(t, "", fakeArgs(t, fa, "export", "definition", "core.def", dest)...)
	require.NoError(t, res.err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "route 1\nroute 2\n", string(data))
}

func TestCreate_UploadsFileUnderBaseName(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)
	path := writeLocal(t, "new-map.csv", "100,200\n")

	res := runCLI(t, "", fakeArgs(t, fa, "create", "digitmap", path)...)
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, []string{"new-map.csv"}, fa.names(appliance.KindDigitMap))
	assert.Equal(t, []string{"create digitmap new-map.csv"}, fa.writeLog())
	assert.Contains(t, res.stdout, "ok")
}

func TestCreate_TooLargeNeverContactsAppliance(t *testing.T) {
	dir := isolateEnv(t)

	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[transport]\nmax_upload_size = \"1KiB\"\n"), 0o600))

	fa := newFakeAppliance(t)
	path := writeLocal(t, "big.csv", string(make([]byte, 2048)))

	res := runCLI(t, "", fakeArgs(t, fa, "--config", cfgPath, "create", "digitmap", path)...)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "limit is 1.0 KiB")
	assert.Empty(t, fa.writeLog())
}

func TestUpdate_ByFileBaseName(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)
	id := fa.add(appliance.KindDigitMap, "core.csv", "old")
	path := writeLocal(t, "core.csv", "new content\n")

	res := runCLI(t, "", fakeArgs(t, fa, "update", "digitmap", path)...)
	require.NoError(t, res.err, res.stderr)

	got, ok := fa.content(appliance.KindDigitMap, id)
	require.True(t, ok)
	assert.Equal(t, "new content\n", got)
	assert.Equal(t, []string{"update digitmap " + id}, fa.writeLog())
}

func TestUpdate_ExplicitID(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)
	id := fa.add(appliance.KindDefinition, "core.def", "old")
	path := writeLocal(t, "renamed.def", "fresh")

	res := runCLI(t, "", fakeArgs(t, fa, "update", "definition", id, path)...)
	require.NoError(t, res.err, res.stderr)

	got, _ := fa.content(appliance.KindDefinition, id)
	assert.Equal(t, "fresh", got)
}

func TestUpdate_RejectedIsReportedOnce(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)
	fa.add(appliance.KindDigitMap, "core.csv", "old")
	fa.rejectWrites = true
	path := writeLocal(t, "core.csv", "bad")

	res := runCLI(t, "", fakeArgs(t, fa, "--json", "update", "digitmap", path)...)
	require.ErrorIs(t, res.err, errReported)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["message"], "File is invalid")
}

func TestRm_ByName(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)
	fa.add(appliance.KindDigitMap, "keep.csv", "k")
	id := fa.add(appliance.KindDigitMap, "drop.csv", "d")

	res := runCLI(t, "", fakeArgs(t, fa, "rm", "digitmap", "drop.csv")...)
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, []string{"keep.csv"}, fa.names(appliance.KindDigitMap))
	assert.Equal(t, []string{"delete digitmap " + id}, fa.writeLog())
}

func TestRm_UnknownName(t *testing.T) {
	isolateEnv(t)

	fa := newFakeAppliance(t)

	res := runCLI(t, "", fakeArgs(t, fa, "rm", "digitmap", "ghost.csv")...)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, appliance.ErrNotFound)
	assert.Empty(t, fa.writeLog())
}

func writeLocal(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func nonEmptyLines(s string) []string {
	var out []string

	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}

	return out
}
