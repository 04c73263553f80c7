package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "apiKeys")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "apiKeys", []byte(`{"kie":"k1"}`)))
	v, ok, err := s.Get(ctx, "apiKeys")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"kie":"k1"}`, string(v))

	require.NoError(t, s.Set(ctx, "apiKeys", []byte(`{"kie":"k2"}`)))
	v, _, err = s.Get(ctx, "apiKeys")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kie":"k2"}`, string(v))

	require.NoError(t, s.Delete(ctx, "apiKeys"))
	_, ok, err = s.Get(ctx, "apiKeys")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "missing"))
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)

	exerciseStore(t, s)
}

func TestFileStoreWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set(context.Background(), "jobHistory", []byte(`[]`)))

	data, err := os.ReadFile(filepath.Join(dir, "jobHistory.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)

	err = s.Set(context.Background(), "../escape", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestPrefixedStore(t *testing.T) {
	base := NewMemory()
	p := Prefixed{Store: base, Prefix: "user-7."}

	exerciseStore(t, p)

	require.NoError(t, p.Set(context.Background(), "jobHistory", []byte("[]")))
	_, ok, err := base.Get(context.Background(), "user-7.jobHistory")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedis(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: "dance-studio-test:"})
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestRedisStorePrefixesKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedis(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: "ds:"})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "jobHistory", []byte("[]")))
	got, err := mr.Get("ds:jobHistory")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
	assert.False(t, mr.Exists("jobHistory"))

	tenant := Prefixed{Store: s, Prefix: "tg-7:"}
	require.NoError(t, tenant.Set(ctx, "apiKeys", []byte(`{"kie":"k"}`)))
	assert.True(t, mr.Exists("ds:tg-7:apiKeys"))

	require.NoError(t, tenant.Delete(ctx, "apiKeys"))
	assert.False(t, mr.Exists("ds:tg-7:apiKeys"))
	assert.True(t, mr.Exists("ds:jobHistory"))
}

func TestRedisStoreSurfacesServerErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedis(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer s.Close()

	mr.SetError("ERR injected failure")
	_, ok, err := s.Get(context.Background(), "apiKeys")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, s.Set(context.Background(), "apiKeys", []byte("{}")))
	mr.SetError("")

	_, ok, err = s.Get(context.Background(), "apiKeys")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisRequiresReachableServer(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisOptions{})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedis(context.Background(), RedisOptions{Addr: addr})
	assert.ErrorContains(t, err, "redis ping")
}
