package cdpsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNativeClassName(t *testing.T) {
	t.Parallel()
	assert.True(t, isNativeClassName("HTMLDivElement"))
	assert.True(t, isNativeClassName("WebGLRenderingContext"))
	assert.False(t, isNativeClassName("MyAppStore"))
	assert.False(t, isNativeClassName(""))
}

func TestIsNativeGlobalName(t *testing.T) {
	t.Parallel()
	assert.True(t, isNativeGlobalName("document"))
	assert.True(t, isNativeGlobalName("fetch"))
	assert.False(t, isNativeGlobalName("myGlobalState"))
}

func TestIsApplicationObject(t *testing.T) {
	t.Parallel()
	assert.True(t, isApplicationObject(""))
	assert.True(t, isApplicationObject("Object"))
	assert.False(t, isApplicationObject("HTMLDivElement"))
}

func newTestWindowPropertyMonitor() *WindowPropertyMonitor {
	return newWindowPropertyMonitor(nil, silentLogger(), func(EventCategory, any) error { return nil }, 0, 0, 10, func() string { return "https://example.com" })
}

func TestUpdateHistoryEmitsAddedThenUpdatedThenRemoved(t *testing.T) {
	t.Parallel()
	m := newTestWindowPropertyMonitor()

	changes := m.updateHistory(map[string]string{"app.user.id": "1"}, "https://example.com")
	require.Len(t, changes, 1)
	assert.Equal(t, "added", changes[0].Kind)
	assert.Equal(t, "app.user.id", changes[0].Path)

	changes = m.updateHistory(map[string]string{"app.user.id": "2"}, "https://example.com")
	require.Len(t, changes, 1)
	assert.Equal(t, "updated", changes[0].Kind)
	assert.Equal(t, "2", *changes[0].Value)

	changes = m.updateHistory(map[string]string{}, "https://example.com")
	require.Len(t, changes, 1)
	assert.Equal(t, "removed", changes[0].Kind)
	assert.Nil(t, changes[0].Value)

	summary := m.summary()
	assert.Equal(t, 1, summary.Paths)
	assert.Equal(t, 3, summary.HistoryEntries)
}

func TestUpdateHistoryNoChangeEmitsNothing(t *testing.T) {
	t.Parallel()
	m := newTestWindowPropertyMonitor()

	m.updateHistory(map[string]string{"a": "1"}, "https://example.com")
	changes := m.updateHistory(map[string]string{"a": "1"}, "https://example.com")
	assert.Empty(t, changes)
}

func TestUpdateHistoryDoesNotDoubleTombstone(t *testing.T) {
	t.Parallel()
	m := newTestWindowPropertyMonitor()

	m.updateHistory(map[string]string{"a": "1"}, "https://example.com")
	m.updateHistory(map[string]string{}, "https://example.com")
	changes := m.updateHistory(map[string]string{}, "https://example.com")
	assert.Empty(t, changes, "a path already tombstoned must not be re-tombstoned")
}

func TestScalarString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hello", scalarString("string", []byte(`"hello"`)))
	assert.Equal(t, "42", scalarString("number", []byte(`42`)))
	assert.Equal(t, "true", scalarString("boolean", []byte(`true`)))
	assert.Equal(t, "", scalarString("string", nil))
}
