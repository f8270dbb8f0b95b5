package protocol

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// Chat plaintext is packed before encryption: a one-byte scheme marker
// followed by the (possibly compressed) text. Compression is applied only
// when the LZ4 output is actually smaller, so short messages stay raw.
const (
	schemeRaw byte = 0x00
	schemeLZ4 byte = 0x01

	// compressMin is the smallest plaintext worth attempting to compress.
	compressMin = 128
)

var (
	ErrEmptyPayload        = errors.New("protocol: empty packed payload")
	ErrUnknownScheme       = errors.New("protocol: unknown payload scheme")
	ErrDecompressionFailed = errors.New("protocol: payload decompression failed")
)

var lz4Writers = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

var lz4Readers = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

// PackText encodes chat plaintext for encryption.
func PackText(text string) []byte {
	raw := []byte(text)
	if len(raw) >= compressMin {
		if compressed, err := compress(raw); err == nil && len(compressed) < len(raw) {
			out := make([]byte, 0, 1+len(compressed))
			out = append(out, schemeLZ4)
			return append(out, compressed...)
		}
	}
	out := make([]byte, 0, 1+len(raw))
	out = append(out, schemeRaw)
	return append(out, raw...)
}

// UnpackText reverses PackText after decryption.
func UnpackText(packed []byte) (string, error) {
	if len(packed) == 0 {
		return "", ErrEmptyPayload
	}
	switch packed[0] {
	case schemeRaw:
		return string(packed[1:]), nil
	case schemeLZ4:
		raw, err := decompress(packed[1:])
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		return "", ErrUnknownScheme
	}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4Writers.Get().(*lz4.Writer)
	defer lz4Writers.Put(w)

	w.Reset(&buf)
	_ = w.Apply(lz4.CompressionLevelOption(lz4.Fast))
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := lz4Readers.Get().(*lz4.Reader)
	defer lz4Readers.Put(r)

	r.Reset(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, ErrDecompressionFailed
	}
	return buf.Bytes(), nil
}
