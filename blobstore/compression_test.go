package blobstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	// Repetitive payload compresses well with both algorithms.
	payload := bytes.Repeat([]byte("identity snapshot payload "), 256)

	for _, ct := range []CompressionType{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			compressed, err := Compress(payload, ct)
			require.NoError(t, err)

			if ct != CompressionNone {
				require.Less(t, len(compressed), len(payload))
			}

			decompressed, err := Decompress(compressed, ct)
			require.NoError(t, err)
			require.Equal(t, payload, decompressed)
		})
	}
}

func TestCompressIncompressibleFallsBackToStored(t *testing.T) {
	// High-entropy payload: stored uncompressed behind the header.
	payload := make([]byte, 1024)
	state := uint32(0x9e3779b9)
	for i := range payload {
		state = state*1664525 + 1013904223
		payload[i] = byte(state >> 24)
	}

	compressed, err := Compress(payload, CompressionLZ4)
	require.NoError(t, err)
	require.Equal(t, len(payload)+compressionHeaderSize, len(compressed))

	decompressed, err := Decompress(compressed, CompressionLZ4)
	require.NoError(t, err)
	require.Equal(t, payload, decompressed)
}

func TestDecompressRejectsTruncatedPayload(t *testing.T) {
	_, err := Decompress([]byte{1, 2, 3}, CompressionZSTD)
	require.Error(t, err)

	compressed, err := Compress([]byte("hello"), CompressionZSTD)
	require.NoError(t, err)
	_, err = Decompress(compressed[:len(compressed)-1], CompressionZSTD)
	require.Error(t, err)
}
