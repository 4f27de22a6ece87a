package pid_test

import (
	"os"
	"strconv"
	"testing"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, pid.Write(dir))
	data, err := os.ReadFile(pid.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, pid.Remove(dir))
	_, err = os.Stat(pid.Path(dir))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, pid.Remove(dir), "removing twice is fine")
}

func TestWriteRefusesLiveOwner(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, pid.Write(dir))

	err := pid.Write(dir)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteTakesOverStaleFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(pid.Path(dir), []byte("garbage\n"), 0o600))

	require.NoError(t, pid.Write(dir))
	data, err := os.ReadFile(pid.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}
