package keys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGenerate(t *testing.T) Keypair {
	t.Helper()
	kp, err := Generate()
	require.NoError(t, err)
	return kp
}

func TestFromSecret(t *testing.T) {
	kp := mustGenerate(t)
	assert.Len(t, kp.Secret, 64)
	assert.Len(t, kp.Public, 64)

	again, err := FromSecret(kp.Secret)
	require.NoError(t, err)
	assert.Equal(t, kp, again)

	npub, err := kp.Npub()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(npub, "npub1"))

	for _, bad := range []string{"", "zz", strings.Repeat("a", 62)} {
		_, err := FromSecret(bad)
		assert.Error(t, err, "secret %q", bad)
	}
}

func TestEnsureFromSharedStore(t *testing.T) {
	existing := mustGenerate(t)
	shared := NewMemory(existing)
	backup := NewMemory(mustGenerate(t))

	lc := NewLifecycle(shared, backup, nil)
	kp, origin, err := lc.Ensure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, existing, kp)
	assert.Equal(t, OriginShared, origin)
	assert.Zero(t, shared.Saves())
	assert.Zero(t, backup.Saves())
}

func TestEnsureMigratesBackup(t *testing.T) {
	ctx := context.Background()
	legacy := mustGenerate(t)
	shared := NewMemory(Keypair{})
	backup := NewMemory(legacy)

	kp, origin, err := NewLifecycle(shared, backup, nil).Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, legacy, kp)
	assert.Equal(t, OriginMigrated, origin)
	assert.Equal(t, 1, shared.Saves())

	kp, origin, err = NewLifecycle(shared, backup, nil).Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, legacy, kp)
	assert.Equal(t, OriginShared, origin, "migration is not repeated")
	assert.Equal(t, 1, shared.Saves())
}

func TestEnsureGeneratesIntoBothStores(t *testing.T) {
	ctx := context.Background()
	shared := NewMemory(Keypair{})
	backup := NewMemory(Keypair{})

	lc := NewLifecycle(shared, backup, nil)
	kp, origin, err := lc.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, OriginGenerated, origin)

	stored, err := shared.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, kp, stored)
	backedUp, err := backup.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, kp, backedUp)

	again, origin, err := lc.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, kp, again)
	assert.Equal(t, OriginGenerated, origin)
	assert.Equal(t, 1, shared.Saves())

	current, ok := lc.Keypair()
	assert.True(t, ok)
	assert.Equal(t, kp, current)

	lc.Forget()
	_, ok = lc.Keypair()
	assert.False(t, ok)
}

func TestEnsureWithoutBackup(t *testing.T) {
	shared := NewMemory(Keypair{})

	_, origin, err := NewLifecycle(shared, nil, nil).Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OriginGenerated, origin)
	assert.Equal(t, 1, shared.Saves())
}

func TestEnsureUnreadableBackupIsNotOverwritten(t *testing.T) {
	shared := NewMemory(Keypair{})
	backup := NewMemory(Keypair{})
	backup.LoadErr = ErrNoPassphrase

	lc := NewLifecycle(shared, backup, nil)
	_, _, err := lc.Ensure(context.Background())
	require.ErrorIs(t, err, ErrNoPassphrase)

	assert.Zero(t, shared.Saves())
	assert.Zero(t, backup.Saves())
	_, ok := lc.Keypair()
	assert.False(t, ok)
}

func TestBackupFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys", "backup.json")
	kp := mustGenerate(t)

	_, err := NewBackupFile(path, "hunter2").Load(ctx)
	require.ErrorIs(t, err, ErrNoKey)

	require.NoError(t, NewBackupFile(path, "hunter2").Save(ctx, kp))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), kp.Secret)

	loaded, err := NewBackupFile(path, "hunter2").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, kp, loaded)

	_, err = NewBackupFile(path, "wrong").Load(ctx)
	assert.Error(t, err)

	_, err = NewBackupFile(path, "").Load(ctx)
	assert.ErrorIs(t, err, ErrNoPassphrase)
}

func TestSharedStore(t *testing.T) {
	ctx := context.Background()
	st, err := storage.New(ctx, &config.Storage{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "strand.db"),
		QueryLimit: 100,
	})
	require.NoError(t, err)
	defer st.Close()

	identity := NewSharedStore(st, IdentitySecret)
	client := NewSharedStore(st, ClientSecret)

	_, err = identity.Load(ctx)
	require.ErrorIs(t, err, ErrNoKey)

	kp := mustGenerate(t)
	require.NoError(t, identity.Save(ctx, kp))

	loaded, err := identity.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, kp, loaded)

	_, err = client.Load(ctx)
	assert.ErrorIs(t, err, ErrNoKey, "names are independent")

	backup := NewBackupFile(filepath.Join(t.TempDir(), "legacy.json"), "pass")
	got, origin, err := NewLifecycle(identity, backup, nil).Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, OriginShared, origin)
	assert.Equal(t, kp, got)
}

func TestEnsureGeneratesIntoSharedStorage(t *testing.T) {
	ctx := context.Background()
	st, err := storage.New(ctx, &config.Storage{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "strand.db"),
		QueryLimit: 100,
	})
	require.NoError(t, err)
	defer st.Close()

	generated, origin, err := NewLifecycle(NewSharedStore(st, IdentitySecret), nil, nil).Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, OriginGenerated, origin)

	again, origin, err := NewLifecycle(NewSharedStore(st, IdentitySecret), nil, nil).Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, OriginShared, origin)
	assert.Equal(t, generated, again)
}
