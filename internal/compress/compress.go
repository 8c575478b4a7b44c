package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// CodecNone is the name reported when a payload matched no codec and was
// passed through unchanged.
const CodecNone = "none"

// Codec detects and reverses one compression scheme by its magic bytes.
type Codec interface {
	Name() string
	Detect(data []byte) bool
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// DecompressError reports a payload that matched a codec's magic bytes but
// failed to inflate. The payload is dropped, never stored partially decoded.
type DecompressError struct {
	Codec string
	Err   error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("compress: %s payload failed to inflate: %v", e.Codec, e.Err)
}

func (e *DecompressError) Unwrap() error { return e.Err }

// GzipCodec handles gzip streams, magic bytes 1f 8b.
type GzipCodec struct{}

func (GzipCodec) Name() string { return "gzip" }

func (GzipCodec) Detect(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}

func (GzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (GzipCodec) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return decompressed, nil
}

// ZlibCodec handles zlib streams, magic byte 78 followed by 9c, da or 01.
type ZlibCodec struct{}

func (ZlibCodec) Name() string { return "zlib" }

func (ZlibCodec) Detect(data []byte) bool {
	return len(data) > 2 && data[0] == 0x78 && (data[1] == 0x9c || data[1] == 0xda || data[1] == 0x01)
}

func (ZlibCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := zlib.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("zlib close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (ZlibCodec) Decompress(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader creation failed: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("zlib read failed: %w", err)
	}
	return decompressed, nil
}

// Sniffer tries a fixed, ordered codec list against a payload's leading
// bytes and inflates with the first match.
type Sniffer struct {
	codecs []Codec
}

// NewSniffer returns a sniffer with the default codec order: gzip first,
// then zlib. The order is fixed and part of the wire contract; first match
// wins.
func NewSniffer() *Sniffer {
	return &Sniffer{codecs: []Codec{GzipCodec{}, ZlibCodec{}}}
}

// Decompress inflates data with the first codec whose magic bytes match and
// reports which codec ran. When no codec matches, including any input of two
// bytes or fewer, data comes back unchanged with CodecNone. At most one
// stage ever runs; output is never re-sniffed.
func (s *Sniffer) Decompress(data []byte) ([]byte, string, error) {
	for _, codec := range s.codecs {
		if !codec.Detect(data) {
			continue
		}
		decompressed, err := codec.Decompress(data)
		if err != nil {
			return nil, codec.Name(), &DecompressError{Codec: codec.Name(), Err: err}
		}
		return decompressed, codec.Name(), nil
	}
	return data, CodecNone, nil
}

// Lookup returns the codec registered under name, or nil. CodecNone and
// unknown names both return nil.
func (s *Sniffer) Lookup(name string) Codec {
	for _, codec := range s.codecs {
		if codec.Name() == name {
			return codec
		}
	}
	return nil
}
