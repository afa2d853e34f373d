package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModTime(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.css")

	assert.True(t, ModTime(p).IsZero())

	require.NoError(t, os.WriteFile(p, []byte("body{}"), 0o644))
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(p, stamp, stamp))
	assert.True(t, ModTime(p).Equal(stamp))
}

func TestReadOptional(t *testing.T) {
	dir := t.TempDir()

	data, ok, err := ReadOptional(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	p := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	data, ok, err = ReadOptional(p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), data)

	_, _, err = ReadOptional(dir)
	assert.Error(t, err)
}

func TestHashFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "m.js")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o644))

	sum, err := HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", sum)

	_, err = HashFile(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
