package routeops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.def")
	require.NoError(t, os.WriteFile(path, []byte("0049;gw1\n"), 0o600))

	data, err := ReadUpload(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "0049;gw1\n", string(data))

	data, err = ReadUpload(path, 9)
	require.NoError(t, err)
	assert.Len(t, data, 9)

	_, err = ReadUpload(path, 8)
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.Contains(t, err.Error(), "9 B")

	_, err = ReadUpload(filepath.Join(t.TempDir(), "absent.def"), 8)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
