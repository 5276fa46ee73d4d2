package cache

import (
	"bytes"
	"strings"
	"testing"

	"github.com/contentsquare/webfetch/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadHeader(t *testing.T) {
	expectedS := "foo-bar1; baz"
	bb := &bytes.Buffer{}
	if err := writeHeader(bb, expectedS); err != nil {
		t.Fatalf("cannot write header: %q", err)
	}

	s, err := readHeader(bb)
	if err != nil {
		t.Fatalf("cannot read header: %q", err)
	}
	if s != expectedS {
		t.Fatalf("unexpected header %q; expecting %q", s, expectedS)
	}
}

func TestReadHeaderTruncated(t *testing.T) {
	bb := &bytes.Buffer{}
	require.NoError(t, writeHeader(bb, "abcdef"))
	bb.Truncate(6)

	_, err := readHeader(bb)
	assert.Error(t, err)
}

func TestArtifactRoundtrip(t *testing.T) {
	payload := []byte(strings.Repeat("<weather><city>vienna</city></weather>", 100))

	for _, name := range []string{config.CompressionNone, config.CompressionLZ4, config.CompressionZSTD} {
		t.Run(name, func(t *testing.T) {
			c, err := newCodec(name)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, encodeArtifact(&buf, c, "http://example.com/w", payload))
			if name != config.CompressionNone && buf.Len() >= len(payload) {
				t.Fatalf("unexpected encoded size %d; expecting less than %d", buf.Len(), len(payload))
			}

			rawURL, data, err := decodeArtifact(&buf)
			require.NoError(t, err)
			assert.Equal(t, "http://example.com/w", rawURL)
			assert.Equal(t, payload, data)
		})
	}
}

func TestArtifactEmptyPayload(t *testing.T) {
	c, err := newCodec(config.CompressionZSTD)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, encodeArtifact(&buf, c, "http://example.com/empty", nil))
	_, data, err := decodeArtifact(&buf)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestDecodeArtifactBadVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHeader(&buf, "v0"))
	_, _, err := decodeArtifact(&buf)
	assert.Error(t, err)
}

func TestUnknownCodec(t *testing.T) {
	_, err := newCodec("brotli")
	assert.Error(t, err)
}
