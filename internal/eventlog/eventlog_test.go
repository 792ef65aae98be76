package eventlog

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vectorly/cdpcapture/internal/cdpsession"
)

func TestWriterAppendsAndReadAllNetworkEventsRoundTrips(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "capture.jsonl")
	w, err := NewWriter(path, LevelDefault)
	require.NoError(t, err)

	require.NoError(t, w.OnEvent(cdpsession.CategoryNetwork, cdpsession.NetworkTransactionEvent{
		RequestID: "1", Method: "GET", URL: "https://example.com", State: cdpsession.StateCompleted,
	}))
	require.NoError(t, w.OnEvent(cdpsession.CategoryStorage, cdpsession.StorageEvent{
		Kind: cdpsession.KindCookieChanged, Key: "session",
	}))
	require.NoError(t, w.OnEvent(cdpsession.CategoryNetwork, cdpsession.NetworkTransactionEvent{
		RequestID: "2", Method: "POST", URL: "https://example.com/api", State: cdpsession.StateFailed,
	}))
	require.NoError(t, w.Close())

	events, err := ReadAllNetworkEvents(t.Context(), path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].RequestID)
	assert.Equal(t, "2", events[1].RequestID)
}

func TestWriterCompressesLargeResponseBodyInline(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	w, err := NewWriter(path, LevelBest)
	require.NoError(t, err)
	defer w.Close()

	large := bytes.Repeat([]byte("a"), bodyCompressionThreshold*2)
	compacted, err := w.compressBodyIfLarge(cdpsession.NetworkTransactionEvent{
		ResponseBody: &cdpsession.ResponseBody{Body: large},
	})
	require.NoError(t, err)

	require.True(t, compacted.ResponseBody.Base64Encoded)
	assert.Less(t, len(compacted.ResponseBody.Body), len(large))

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	decompressed, err := dec.DecodeAll(compacted.ResponseBody.Body, nil)
	require.NoError(t, err)
	assert.Equal(t, large, decompressed)
}

func TestWriterLeavesSmallBodyUncompressed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	w, err := NewWriter(path, LevelDefault)
	require.NoError(t, err)
	defer w.Close()

	small := []byte("tiny body")
	compacted, err := w.compressBodyIfLarge(cdpsession.NetworkTransactionEvent{
		ResponseBody: &cdpsession.ResponseBody{Body: small},
	})
	require.NoError(t, err)
	assert.False(t, compacted.ResponseBody.Base64Encoded)
	assert.Equal(t, small, compacted.ResponseBody.Body)
}

func TestCompressionLevelToZstdLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, zstd.SpeedFastest, LevelFastest.toZstdLevel())
	assert.Equal(t, zstd.SpeedBetterCompression, LevelBetter.toZstdLevel())
	assert.Equal(t, zstd.SpeedBestCompression, LevelBest.toZstdLevel())
	assert.Equal(t, zstd.SpeedDefault, CompressionLevel("unknown").toZstdLevel())
}
