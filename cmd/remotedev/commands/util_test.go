package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/remotedev/pkg/config"
)

func TestGetDefaultStateDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/xdg-state")
	assert.Equal(t, filepath.Join("/tmp/xdg-state", "remotedev"), GetDefaultStateDir())
}

func TestGetDefaultPidFile(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/xdg-state")
	assert.Equal(t, filepath.Join("/tmp/xdg-state", "remotedev", "remotedev.pid"), GetDefaultPidFile())
}

func seededDevStore(t *testing.T, names ...string) *config.DevStore {
	t.Helper()
	store, err := config.NewDevStore(filepath.Join(t.TempDir(), "dev.yaml"))
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, store.SaveProfile(name, &config.DevProfile{
			RemoteHost:  name + ".example.com",
			SSHUsername: "dev",
			SSHPassword: "pw",
			LocalDir:    "/home/dev/project",
		}))
	}
	return store
}

func TestResolveDevProfileByName(t *testing.T) {
	store := seededDevStore(t, "alpha", "beta")

	name, p, err := resolveDevProfile(store, "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", name)
	assert.Equal(t, "beta.example.com", p.RemoteHost)
}

func TestResolveDevProfileSingleWithoutPrompt(t *testing.T) {
	store := seededDevStore(t, "only")

	name, p, err := resolveDevProfile(store, "")
	require.NoError(t, err)
	assert.Equal(t, "only", name)
	assert.Equal(t, "only.example.com", p.RemoteHost)
}

func TestResolveDevProfileEmptyStoreFails(t *testing.T) {
	store := seededDevStore(t)

	_, _, err := resolveDevProfile(store, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile create")
}

func TestResolveDevProfileUnknownName(t *testing.T) {
	store := seededDevStore(t, "alpha")

	_, _, err := resolveDevProfile(store, "missing")
	assert.ErrorIs(t, err, config.ErrProfileNotFound)
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, sortedKeys(m))
}
