package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/oriath-net/gooz"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"

	"github.com/jchantrell/abedit/internal/errs"
)

// ErrDecodeOnly is returned by codecs that cannot compress.
var ErrDecodeOnly = errors.New("codec cannot compress")

// Codec compresses and decompresses single blocks.
type Codec interface {
	// Decompress fills dst, which has the block's uncompressed size.
	Decompress(dst, src []byte) error
	Compress(src []byte) ([]byte, error)
}

// Codecs maps block compression ids to codecs.
type Codecs struct {
	byID map[Compression]Codec
}

// DefaultCodecs returns the built-in Unity codecs.
func DefaultCodecs() *Codecs {
	return &Codecs{byID: map[Compression]Codec{
		CompressionNone:  noneCodec{},
		CompressionLZMA:  lzmaCodec{},
		CompressionLZ4:   lz4Codec{hc: false},
		CompressionLZ4HC: lz4Codec{hc: true},
	}}
}

// NewCodecs returns the built-in codecs plus vendor ids mapped to a named
// codec ("oodle" or "zstd"), as configured by vendor_codecs.
func NewCodecs(vendor map[string]string) (*Codecs, error) {
	c := DefaultCodecs()
	for key, name := range vendor {
		id, err := strconv.ParseUint(key, 10, 8)
		if err != nil || id > FlagCompressionMask {
			return nil, fmt.Errorf("invalid vendor codec id %q", key)
		}
		if Compression(id) <= CompressionLZ4HC {
			return nil, fmt.Errorf("vendor codec id %d shadows built-in codec %s", id, Compression(id))
		}
		switch strings.ToLower(name) {
		case "oodle":
			c.byID[Compression(id)] = oodleCodec{}
		case "zstd":
			c.byID[Compression(id)] = zstdCodec{}
		default:
			return nil, fmt.Errorf("unknown vendor codec %q for id %d", name, id)
		}
	}
	return c, nil
}

// Get returns the codec registered for id.
func (c *Codecs) Get(id Compression) (Codec, error) {
	codec, ok := c.byID[id]
	if !ok {
		return nil, errs.Kind(errs.ErrFormat, "unknown block compression %d", id)
	}
	return codec, nil
}

// Decompress inflates src into a new buffer of size n.
func (c *Codecs) Decompress(id Compression, src []byte, n int) ([]byte, error) {
	codec, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, n)
	if err := codec.Decompress(dst, src); err != nil {
		return nil, fmt.Errorf("%s block: %w", id, err)
	}
	return dst, nil
}

type noneCodec struct{}

func (noneCodec) Decompress(dst, src []byte) error {
	if len(src) != len(dst) {
		return errs.Kind(errs.ErrFormat, "stored block of %d bytes declares %d", len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

func (noneCodec) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

type lz4Codec struct {
	hc bool
}

func (lz4Codec) Decompress(dst, src []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrFormat, err)
	}
	if n != len(dst) {
		return errs.Kind(errs.ErrTruncated, "lz4 block inflated to %d of %d bytes", n, len(dst))
	}
	return nil
}

func (c lz4Codec) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var n int
	var err error
	if c.hc {
		n, err = lz4.CompressBlockHC(src, dst, lz4.Level9, nil, nil)
	} else {
		n, err = lz4.CompressBlock(src, dst, nil)
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// incompressible; callers store the block raw
		return src, nil
	}
	return dst[:n], nil
}

// Unity stores LZMA blocks as 5 property bytes followed by the raw stream,
// without the 8-byte size field of the .lzma header.
type lzmaCodec struct{}

func (lzmaCodec) Decompress(dst, src []byte) error {
	if len(src) < 5 {
		return errs.Kind(errs.ErrTruncated, "lzma block of %d bytes", len(src))
	}
	header := make([]byte, 13, 13+len(src)-5)
	copy(header, src[:5])
	binary.LittleEndian.PutUint64(header[5:], uint64(len(dst)))
	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(header), bytes.NewReader(src[5:])))
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrFormat, err)
	}
	if _, err := io.ReadFull(r, dst); err != nil {
		return fmt.Errorf("%w: lzma: %w", errs.ErrTruncated, err)
	}
	return nil
}

func (lzmaCodec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{SizeInHeader: true, Size: int64(len(src))}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) < 13 {
		return nil, fmt.Errorf("lzma stream of %d bytes", len(out))
	}
	// drop the size field
	return append(out[:5:5], out[13:]...), nil
}

type oodleCodec struct{}

func (oodleCodec) Decompress(dst, src []byte) error {
	if _, err := gooz.Decompress(src, dst); err != nil {
		return fmt.Errorf("%w: oodle: %w", errs.ErrFormat, err)
	}
	return nil
}

func (oodleCodec) Compress([]byte) ([]byte, error) {
	return nil, ErrDecodeOnly
}

type zstdCodec struct{}

var (
	zstdDecoder, _ = zstd.NewReader(nil)
	zstdEncoder, _ = zstd.NewWriter(nil)
)

func (zstdCodec) Decompress(dst, src []byte) error {
	out, err := zstdDecoder.DecodeAll(src, dst[:0])
	if err != nil {
		return fmt.Errorf("%w: zstd: %w", errs.ErrFormat, err)
	}
	if len(out) != len(dst) {
		return errs.Kind(errs.ErrTruncated, "zstd block inflated to %d of %d bytes", len(out), len(dst))
	}
	return nil
}

func (zstdCodec) Compress(src []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(src, nil), nil
}
