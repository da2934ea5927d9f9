package connection

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  secret-1\n"), 0o600))

	tok, err := FileTokenSource(path).Token()
	require.NoError(t, err)
	assert.Equal(t, "secret-1", tok.AccessToken)
	assert.True(t, tok.Valid())
}

func TestFileTokenSourceRereadsAfterExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("secret-1"), 0o600))

	now := time.Now()
	src := fileTokenSource{path: path, now: func() time.Time { return now }}
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, now.Add(tokenFileTTL), tok.Expiry)

	require.NoError(t, os.WriteFile(path, []byte("secret-2"), 0o600))
	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "secret-2", tok.AccessToken)
}

func TestFileTokenSourceErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := FileTokenSource(filepath.Join(dir, "missing")).Token()
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = FileTokenSource(empty).Token()
	assert.ErrorIs(t, err, ErrEmptyToken)
}
