package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "wifiwatchd.pid")
	p := New(path)

	require.NoError(t, p.Create(false))
	running, pid, err := p.CheckRunning()
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, p.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, p.Remove())
}

func TestCreateRefusesLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifiwatchd.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	p := New(path)
	p.alive = func(pid int) bool { return pid == 4242 }

	err := p.Create(false)
	assert.ErrorIs(t, err, ErrRunning)

	require.NoError(t, p.Create(true))
	_, pid, err := p.CheckRunning()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestCreateReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifiwatchd.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	p := New(path)
	p.alive = func(int) bool { return false }
	require.NoError(t, p.Create(false))
}

func TestRemoveKeepsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifiwatchd.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	assert.Error(t, New(path).Remove())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifiwatchd.pid")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, _, err := New(path).CheckRunning()
	assert.Error(t, err)
	assert.Error(t, New(path).Create(false))
	assert.NoError(t, New(path).Create(true))
}
