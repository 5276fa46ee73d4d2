package cache

import (
	"fmt"
	"io"
	"sync"

	"github.com/contentsquare/webfetch/config"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// codec compresses artifacts on disk. The codec name is stored in the file
// header, so files written with a previous `compression` setting stay
// readable after a config change.
type codec interface {
	name() string
	encode(w io.Writer, data []byte) error
	decode(r io.Reader) ([]byte, error)
}

func newCodec(name string) (codec, error) {
	switch name {
	case config.CompressionNone, "":
		return noneCodec{}, nil
	case config.CompressionLZ4:
		return lz4Codec{}, nil
	case config.CompressionZSTD:
		return zstdCodec{}, nil
	}
	return nil, fmt.Errorf("unknown compression %q", name)
}

type noneCodec struct{}

func (noneCodec) name() string { return config.CompressionNone }

func (noneCodec) encode(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return err
}

func (noneCodec) decode(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

type lz4Codec struct{}

func (lz4Codec) name() string { return config.CompressionLZ4 }

func (lz4Codec) encode(w io.Writer, data []byte) error {
	zw := lz4.NewWriter(w)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("cannot compress with lz4: %w", err)
	}
	return zw.Close()
}

func (lz4Codec) decode(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(lz4.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("cannot decompress lz4: %w", err)
	}
	return b, nil
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll
// calls, so a single pair is shared.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZSTD() error {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdErr
}

type zstdCodec struct{}

func (zstdCodec) name() string { return config.CompressionZSTD }

func (zstdCodec) encode(w io.Writer, data []byte) error {
	if err := initZSTD(); err != nil {
		return fmt.Errorf("cannot init zstd: %w", err)
	}
	_, err := w.Write(zstdEncoder.EncodeAll(data, nil))
	return err
}

func (zstdCodec) decode(r io.Reader) ([]byte, error) {
	if err := initZSTD(); err != nil {
		return nil, fmt.Errorf("cannot init zstd: %w", err)
	}
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b, err := zstdDecoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot decompress zstd: %w", err)
	}
	return b, nil
}

// encodeArtifact writes the artifact file layout:
//
//	header(version) header(codec) header(url) payload
func encodeArtifact(w io.Writer, c codec, rawURL string, data []byte) error {
	if err := writeHeader(w, fmt.Sprintf("v%d", Version)); err != nil {
		return fmt.Errorf("cannot write version header: %w", err)
	}
	if err := writeHeader(w, c.name()); err != nil {
		return fmt.Errorf("cannot write codec header: %w", err)
	}
	if err := writeHeader(w, rawURL); err != nil {
		return fmt.Errorf("cannot write url header: %w", err)
	}
	return c.encode(w, data)
}

// decodeArtifact reads a file written by encodeArtifact.
func decodeArtifact(r io.Reader) (rawURL string, data []byte, err error) {
	version, err := readHeader(r)
	if err != nil {
		return "", nil, err
	}
	if want := fmt.Sprintf("v%d", Version); version != want {
		return "", nil, fmt.Errorf("unsupported cache file version %q; expecting %q", version, want)
	}
	name, err := readHeader(r)
	if err != nil {
		return "", nil, err
	}
	c, err := newCodec(name)
	if err != nil {
		return "", nil, err
	}
	if rawURL, err = readHeader(r); err != nil {
		return "", nil, err
	}
	if data, err = c.decode(r); err != nil {
		return "", nil, err
	}
	return rawURL, data, nil
}

// writeHeader writes s prefixed with its big endian uint32 length.
func writeHeader(w io.Writer, s string) error {
	n := uint32(len(s))

	b := make([]byte, 0, n+4)
	b = append(b, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	b = append(b, s...)
	_, err := w.Write(b)
	return err
}

// readHeader reads a string written by writeHeader.
func readHeader(r io.Reader) (string, error) {
	b := make([]byte, 4)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("cannot read header length: %w", err)
	}
	n := uint32(b[3]) | (uint32(b[2]) << 8) | (uint32(b[1]) << 16) | (uint32(b[0]) << 24)
	if n > maxHeaderLen {
		return "", fmt.Errorf("header length %d exceeds %d", n, maxHeaderLen)
	}
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", fmt.Errorf("cannot read header value with length %d: %w", n, err)
	}
	return string(s), nil
}

const maxHeaderLen = 64 << 10
