package configcenter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microcore/pkg/apperror"
)

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) key(dataID, group string) string { return group + "/" + dataID }

func (s *memStore) Get(ctx context.Context, dataID, group string, timeout time.Duration) (string, error) {
	v, ok := s.data[s.key(dataID, group)]
	if !ok {
		return "", apperror.New(apperror.CodeNotFound, "not found")
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, dataID, group, content string, timeout time.Duration) error {
	s.data[s.key(dataID, group)] = content
	return nil
}

func writeLocal(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestGetLocalFileOnly(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "application.yaml", "app:\n  name: demo\n")

	c := New(dir)
	content, err := c.Get(context.Background(), "application.yaml", "DEFAULT_GROUP", time.Second)
	require.NoError(t, err)
	assert.Contains(t, content, "demo")
}

func TestGetLocalFileMissing(t *testing.T) {
	c := New(t.TempDir())
	_, err := c.Get(context.Background(), "missing.yaml", "DEFAULT_GROUP", time.Second)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestGetFailsWhenRemoteMissesUnderDefaultPolicy(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "application.yaml", "app:\n  name: local\n")
	store := newMemStore()

	c := New(dir, WithStore(store))
	_, err := c.Get(context.Background(), "application.yaml", "DEFAULT_GROUP", time.Second)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestGetPrefersRemoteWhenPresent(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "application.yaml", "app:\n  name: local\n")
	store := newMemStore()
	require.NoError(t, store.Set(context.Background(), "application.yaml", "DEFAULT_GROUP", "app:\n  name: remote\n", time.Second))

	c := New(dir, WithStore(store))
	content, err := c.Get(context.Background(), "application.yaml", "DEFAULT_GROUP", time.Second)
	require.NoError(t, err)
	assert.Contains(t, content, "remote")
}

func TestNotExistedCreatePushesLocalUp(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "application.yaml", "app:\n  name: local\n")
	store := newMemStore()

	c := New(dir, WithStore(store), WithNotExistedPolicy(NotExistedCreate))
	_, err := c.Get(context.Background(), "application.yaml", "DEFAULT_GROUP", time.Second)
	require.NoError(t, err)

	pushed, err := store.Get(context.Background(), "application.yaml", "DEFAULT_GROUP", time.Second)
	require.NoError(t, err)
	assert.Contains(t, pushed, "local")
}

func TestDataFileMapping(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "real-file.yaml", "k: v\n")

	c := New(dir, WithDataFileMapping(map[string]string{"logical-id": "real-file.yaml"}))
	content, err := c.Get(context.Background(), "logical-id", "DEFAULT_GROUP", time.Second)
	require.NoError(t, err)
	assert.Contains(t, content, "k: v")
}

func TestEnvTagResolution(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "application-prod.yaml", "app:\n  name: prod\n")
	writeLocal(t, dir, "application.yaml", "app:\n  name: base\n")

	c := New(dir, WithEnvTag("prod", false))
	content, err := c.Get(context.Background(), "application.yaml", "DEFAULT_GROUP", time.Second)
	require.NoError(t, err)
	assert.Contains(t, content, "prod")
}

func TestEnvTagFallsBackWhenMissing(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "application.yaml", "app:\n  name: base\n")

	c := New(dir, WithEnvTag("staging", true))
	content, err := c.Get(context.Background(), "application.yaml", "DEFAULT_GROUP", time.Second)
	require.NoError(t, err)
	assert.Contains(t, content, "base")
}

func TestGetCachedJSONDeepCopy(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "adapters.json", `{"adapters":[{"id":"a1"}]}`)

	c := New(dir)
	v1, err := c.GetCached(context.Background(), "adapters.json", "DEFAULT_GROUP", time.Second, ContentJSON)
	require.NoError(t, err)

	m1, ok := v1.(map[string]any)
	require.True(t, ok)
	list := m1["adapters"].([]any)
	first := list[0].(map[string]any)
	first["id"] = "mutated"

	v2, err := c.GetCached(context.Background(), "adapters.json", "DEFAULT_GROUP", time.Second, ContentJSON)
	require.NoError(t, err)
	m2 := v2.(map[string]any)
	list2 := m2["adapters"].([]any)
	second := list2[0].(map[string]any)
	assert.Equal(t, "a1", second["id"], "cache must not be poisoned by caller mutation")
}

func TestGetCachedYAML(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "config.yaml", "key: value\nnested:\n  inner: 1\n")

	c := New(dir)
	v, err := c.GetCached(context.Background(), "config.yaml", "DEFAULT_GROUP", time.Second, ContentYAML)
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, "value", m["key"])
}

func TestGetCachedXMLDropsRoot(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "doc.xml", `<root><name>demo</name><port>8080</port></root>`)

	c := New(dir)
	v, err := c.GetCached(context.Background(), "doc.xml", "DEFAULT_GROUP", time.Second, ContentXML)
	require.NoError(t, err)
	m := v.(map[string]any)
	name := m["name"].(map[string]any)
	assert.Equal(t, "demo", name["#text"])
}

func TestGetCachedText(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "plain.txt", "hello world")

	c := New(dir)
	v, err := c.GetCached(context.Background(), "plain.txt", "DEFAULT_GROUP", time.Second, ContentText)
	require.NoError(t, err)
	assert.Equal(t, "hello world", v)
}

func TestInvalidateCache(t *testing.T) {
	dir := t.TempDir()
	writeLocal(t, dir, "v.txt", "first")

	c := New(dir)
	v1, err := c.GetCached(context.Background(), "v.txt", "DEFAULT_GROUP", time.Second, ContentText)
	require.NoError(t, err)
	assert.Equal(t, "first", v1)

	writeLocal(t, dir, "v.txt", "second")
	v2, err := c.GetCached(context.Background(), "v.txt", "DEFAULT_GROUP", time.Second, ContentText)
	require.NoError(t, err)
	assert.Equal(t, "first", v2, "should still be cached")

	c.InvalidateCache("v.txt", "DEFAULT_GROUP")
	v3, err := c.GetCached(context.Background(), "v.txt", "DEFAULT_GROUP", time.Second, ContentText)
	require.NoError(t, err)
	assert.Equal(t, "second", v3)
}

func TestSetWritesLocalWithoutStore(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	require.NoError(t, c.Set(context.Background(), "out.txt", "DEFAULT_GROUP", "written", "text", time.Second))

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
}

func TestSetWritesThroughStore(t *testing.T) {
	store := newMemStore()
	c := New(t.TempDir(), WithStore(store))
	require.NoError(t, c.Set(context.Background(), "out.txt", "DEFAULT_GROUP", "written", "text", time.Second))

	v, err := store.Get(context.Background(), "out.txt", "DEFAULT_GROUP", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "written", v)
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, dataID, group string, timeout time.Duration) (string, error) {
	return "", errors.New("boom")
}
func (failingStore) Set(ctx context.Context, dataID, group, content string, timeout time.Duration) error {
	return errors.New("boom")
}

func TestGetPropagatesNonNotFoundStoreError(t *testing.T) {
	c := New(t.TempDir(), WithStore(failingStore{}))
	_, err := c.Get(context.Background(), "x.yaml", "DEFAULT_GROUP", time.Second)
	require.Error(t, err)
	assert.False(t, apperror.Is(err, apperror.CodeNotFound))
}
