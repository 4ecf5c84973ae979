package bundle

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jchantrell/abedit/internal/binio"
	"github.com/jchantrell/abedit/internal/errs"
)

// DefaultBlockSize is used when the source container gives no better hint.
const DefaultBlockSize = 128 * 1024

// Packer selects block compression for a rewritten container.
type Packer string

const (
	PackerOriginal Packer = "original"
	PackerNone     Packer = "none"
	PackerLZ4      Packer = "lz4"
	PackerLZ4HC    Packer = "lz4hc"
	PackerLZMA     Packer = "lzma"
)

// Packers lists the accepted packer names.
var Packers = []Packer{PackerOriginal, PackerNone, PackerLZ4, PackerLZ4HC, PackerLZMA}

// ParsePacker validates a packer name. The empty string means original.
func ParsePacker(s string) (Packer, error) {
	if s == "" {
		return PackerOriginal, nil
	}
	for _, p := range Packers {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown packer %q", s)
}

func (p Packer) compression() (Compression, bool) {
	switch p {
	case PackerNone:
		return CompressionNone, true
	case PackerLZ4:
		return CompressionLZ4, true
	case PackerLZ4HC:
		return CompressionLZ4HC, true
	case PackerLZMA:
		return CompressionLZMA, true
	}
	return 0, false
}

// WriterOptions configures container output.
type WriterOptions struct {
	Packer Packer
	// BlockSize overrides the uncompressed block size.
	BlockSize   int
	Codecs      *Codecs
	Concurrency int
	Progress    ProgressCallback
}

// Encode builds a container holding stream with the given node table. The
// source container supplies the header fields, block layout and flags.
func Encode(ctx context.Context, src *Container, stream []byte, nodes []Node, opts *WriterOptions) ([]byte, error) {
	if opts == nil {
		opts = &WriterOptions{}
	}
	codecs := opts.Codecs
	if codecs == nil {
		codecs = DefaultCodecs()
	}

	blocks, payloads, err := compressBlocks(ctx, src, stream, codecs, opts)
	if err != nil {
		return nil, err
	}

	info := binio.NewWriter(binary.BigEndian)
	_, _ = info.Write(src.Hash[:])
	info.I32(int32(len(blocks)))
	for _, b := range blocks {
		info.U32(b.UncompressedSize)
		info.U32(b.CompressedSize)
		info.U16(b.Flags)
	}
	info.I32(int32(len(nodes)))
	for _, n := range nodes {
		info.I64(n.Offset)
		info.I64(n.Size)
		info.U32(n.Flags)
		info.CString(n.Path)
	}
	rawInfo := info.Bytes()

	infoID := src.Header.InfoCompression()
	if id, ok := opts.Packer.compression(); ok {
		infoID = id
	}
	storedInfo, infoID, err := compressOne(codecs, infoID, rawInfo)
	if err != nil {
		return nil, errs.At(errs.StageWrite, "blocks info", -1, err)
	}

	h := src.Header
	h.Flags = h.Flags&^FlagCompressionMask | uint32(infoID)
	h.CompressedInfoSize = uint32(len(storedInfo))
	h.UncompressedInfoSize = uint32(len(rawInfo))

	w := binio.NewWriter(binary.BigEndian)
	w.CString(Signature)
	w.U32(h.Version)
	w.CString(h.UnityVersion)
	w.CString(h.UnityRevision)
	sizePos := w.Len()
	w.I64(0)
	w.U32(h.CompressedInfoSize)
	w.U32(h.UncompressedInfoSize)
	w.U32(h.Flags)
	if h.Version >= 7 {
		w.Align(16)
	}
	atEnd := h.Flags&FlagInfoAtEnd != 0
	if !atEnd {
		_, _ = w.Write(storedInfo)
	}
	if h.Flags&FlagPaddingAtStart != 0 {
		w.Align(16)
	}
	for _, p := range payloads {
		_, _ = w.Write(p)
	}
	if atEnd {
		_, _ = w.Write(storedInfo)
	}

	out := w.Bytes()
	binary.BigEndian.PutUint64(out[sizePos:], uint64(len(out)))
	return out, nil
}

func blockSize(src *Container, stream []byte, opts *WriterOptions) int {
	switch {
	case opts.BlockSize > 0:
		return opts.BlockSize
	case len(src.Blocks) == 1:
		return max(len(stream), 1)
	case len(src.Blocks) > 1 && src.Blocks[0].UncompressedSize > 0:
		return int(src.Blocks[0].UncompressedSize)
	}
	return DefaultBlockSize
}

// blockFlags returns the flags for output block i.
func blockFlags(src *Container, i int, packer Packer) uint16 {
	var flags uint16
	if n := len(src.Blocks); n > 0 {
		flags = src.Blocks[min(i, n-1)].Flags
	}
	if id, ok := packer.compression(); ok {
		flags = flags&^FlagCompressionMask | uint16(id)
	}
	return flags
}

func compressBlocks(ctx context.Context, src *Container, stream []byte, codecs *Codecs, opts *WriterOptions) ([]Block, [][]byte, error) {
	size := blockSize(src, stream, opts)
	count := (len(stream) + size - 1) / size
	if count == 0 {
		count = 1
	}
	blocks := make([]Block, count)
	payloads := make([][]byte, count)

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	var done atomic.Int64
	for i := 0; i < count; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := min(i*size, len(stream))
			end := min(start+size, len(stream))
			raw := stream[start:end]

			flags := blockFlags(src, i, opts.Packer)
			data, id, err := compressOne(codecs, Compression(flags&FlagCompressionMask), raw)
			if err != nil {
				return errs.At(errs.StageWrite, "", int64(start), fmt.Errorf("block %d: %w", i, err))
			}
			blocks[i] = Block{
				UncompressedSize: uint32(len(raw)),
				CompressedSize:   uint32(len(data)),
				Flags:            flags&^FlagCompressionMask | uint16(id),
			}
			payloads[i] = data
			if opts.Progress != nil {
				opts.Progress(int(done.Add(1)), count, "Compressing blocks")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return blocks, payloads, nil
}

// compressOne compresses raw with id, falling back to LZ4HC for decode-only
// codecs and to stored bytes when compression does not shrink the data.
func compressOne(codecs *Codecs, id Compression, raw []byte) ([]byte, Compression, error) {
	if id == CompressionNone {
		return raw, CompressionNone, nil
	}
	codec, err := codecs.Get(id)
	if err != nil {
		return nil, 0, err
	}
	data, err := codec.Compress(raw)
	if errors.Is(err, ErrDecodeOnly) {
		slog.Debug("Codec is decode-only, recompressing with lz4hc", "compression", id)
		id = CompressionLZ4HC
		data, err = lz4Codec{hc: true}.Compress(raw)
	}
	if err != nil {
		return nil, 0, err
	}
	if len(data) >= len(raw) {
		return raw, CompressionNone, nil
	}
	return data, id, nil
}

// Write encodes the container and copies it to w.
func Write(ctx context.Context, w io.Writer, src *Container, stream []byte, nodes []Node, opts *WriterOptions) error {
	data, err := Encode(ctx, src, stream, nodes, opts)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return errs.At(errs.StageWrite, "", -1, fmt.Errorf("%w: %w", errs.ErrIOWrite, err))
	}
	return nil
}

// WriteFile encodes the container into a temporary file next to dest and
// renames it over dest once fully written and synced. The temporary file is
// removed on any failure, leaving dest untouched.
func WriteFile(ctx context.Context, dest string, src *Container, stream []byte, nodes []Node, opts *WriterOptions) error {
	data, err := Encode(ctx, src, stream, nodes, opts)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteBytes(dest, data)
}

// WriteBytes atomically replaces dest with an already encoded container.
func WriteBytes(dest string, data []byte) error {
	if err := writeAtomic(dest, data); err != nil {
		return errs.At(errs.StageWrite, dest, -1, fmt.Errorf("%w: %w", errs.ErrIOWrite, err))
	}
	return nil
}

func writeAtomic(dest string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if _, err = bw.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flushing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	slog.Debug("Wrote bundle", "path", dest, "size", len(data))
	return nil
}
