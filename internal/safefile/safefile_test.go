package safefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectSymlink(t *testing.T) {
	dir := t.TempDir()

	regular := filepath.Join(dir, "regular")
	require.NoError(t, os.WriteFile(regular, []byte("data"), 0o600))
	assert.NoError(t, RejectSymlink(regular))

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(regular, link))
	err := RejectSymlink(link)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbolic link")
}

func TestReadFileRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("secret"), 0o600))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	_, err := ReadFile(link)
	require.Error(t, err)

	data, err := ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), data)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()

	// Creating a new file works.
	path := filepath.Join(dir, "new")
	require.NoError(t, WriteFile(path, []byte("a"), 0o600))

	// Overwriting a regular file works.
	require.NoError(t, WriteFile(path, []byte("b"), 0o600))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)

	// Writing through a symlink is refused.
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(path, link))
	require.Error(t, WriteFile(link, []byte("c"), 0o600))
}

func TestCreateRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	_, err := Create(link)
	require.Error(t, err)

	f, err := Create(filepath.Join(dir, "out.jsonl"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestCreateTruncatesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("previous export contents"), 0o644))

	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.WriteString("new")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}
