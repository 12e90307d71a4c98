package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "voiceforge.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestSettings(t *testing.T) {
	db, _ := openDB(t)
	ctx := context.Background()

	_, err := db.GetSetting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.PutSetting(ctx, "theme", []byte("dark")))
	require.NoError(t, db.PutSetting(ctx, "theme", []byte("light")))

	s, err := db.GetSetting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", string(s.Value))
	assert.False(t, s.UpdatedAt.IsZero())

	require.NoError(t, db.DeleteSetting(ctx, "theme"))
	_, err = db.GetSetting(ctx, "theme")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlainCredentials(t *testing.T) {
	db, _ := openDB(t)
	ctx := context.Background()
	creds := NewCredentials(db, "")

	value, err := creds.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, creds.Save(ctx, "sk-plain"))
	value, err = creds.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", value)

	encrypted, err := creds.Encrypted(ctx)
	require.NoError(t, err)
	assert.False(t, encrypted)

	require.NoError(t, creds.Clear(ctx))
	value, err = creds.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestSealedCredentials(t *testing.T) {
	db, path := openDB(t)
	ctx := context.Background()

	require.NoError(t, NewCredentials(db, "hunter2").Save(ctx, "sk-sealed-value"))

	raw, err := db.GetSetting(ctx, credentialKey)
	require.NoError(t, err)
	assert.NotContains(t, string(raw.Value), "sk-sealed-value")

	// A fresh process with the same secret reads it back.
	require.NoError(t, db.Close())
	reopened, err := NewDB(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, err := NewCredentials(reopened, "hunter2").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-sealed-value", value)

	encrypted, err := NewCredentials(reopened, "").Encrypted(ctx)
	require.NoError(t, err)
	assert.True(t, encrypted)

	_, err = NewCredentials(reopened, "wrong").Load(ctx)
	assert.ErrorIs(t, err, ErrWrongSecret)

	_, err = NewCredentials(reopened, "").Load(ctx)
	assert.ErrorIs(t, err, ErrSecretRequired)
}

func TestSealedCredentialsReuseSalt(t *testing.T) {
	db, _ := openDB(t)
	ctx := context.Background()
	creds := NewCredentials(db, "hunter2")

	require.NoError(t, creds.Save(ctx, "first"))
	salt, err := db.GetSetting(ctx, saltKey)
	require.NoError(t, err)

	require.NoError(t, creds.Save(ctx, "second"))
	again, err := db.GetSetting(ctx, saltKey)
	require.NoError(t, err)
	assert.Equal(t, salt.Value, again.Value)

	value, err := creds.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestPlainValueReadableAfterSecretAdded(t *testing.T) {
	db, _ := openDB(t)
	ctx := context.Background()

	require.NoError(t, NewCredentials(db, "").Save(ctx, "sk-old"))

	value, err := NewCredentials(db, "hunter2").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-old", value)
}
