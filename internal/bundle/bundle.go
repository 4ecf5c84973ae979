package bundle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jchantrell/abedit/internal/binio"
	"github.com/jchantrell/abedit/internal/errs"
)

// ProgressCallback is called to report progress of long-running steps
type ProgressCallback func(current int, total int, description string)

// ReaderOptions configures container parsing.
type ReaderOptions struct {
	Codecs *Codecs
	// Concurrency bounds parallel block decompression; zero means unbounded.
	Concurrency int
	// MaxSize caps the decompressed stream; zero means DefaultMaxStreamSize.
	MaxSize  int64
	Progress ProgressCallback
}

// DefaultMaxStreamSize bounds the decompressed stream of a container.
const DefaultMaxStreamSize = int64(4) << 30

// lz4MaxRatio is the most an LZ4 block can expand: one token byte and 255
// length bytes describe at most 255 output bytes each.
const lz4MaxRatio = 255

// Parse reads the container header, blocks info and node table, and
// decompresses every block into a single node stream.
func Parse(ctx context.Context, data []byte, opts *ReaderOptions) (*Container, error) {
	if opts == nil {
		opts = &ReaderOptions{}
	}
	codecs := opts.Codecs
	if codecs == nil {
		codecs = DefaultCodecs()
	}

	r := binio.NewReader(data, binary.BigEndian)
	c := &Container{}
	if err := readHeader(r, &c.Header, int64(len(data))); err != nil {
		return nil, readErr(r, err)
	}

	info, err := readBlocksInfo(r, c.Header, data, codecs)
	if err != nil {
		return nil, readErr(r, err)
	}
	ir := binio.NewReader(info, binary.BigEndian)
	if err := readDirectory(ir, c); err != nil {
		return nil, errs.At(errs.StageRead, "blocks info", int64(ir.Pos()), truncated(err))
	}

	if c.Header.Flags&FlagPaddingAtStart != 0 {
		if err := r.Align(16); err != nil {
			return nil, readErr(r, err)
		}
	}
	if err := c.inflate(ctx, r, codecs, opts); err != nil {
		return nil, err
	}

	for i, n := range c.Nodes {
		if n.Offset < 0 || n.Size < 0 || n.End() > int64(len(c.Stream)) {
			return nil, errs.At(errs.StageRead, n.Path, n.Offset,
				errs.Kind(errs.ErrTruncated, "node %d [%d, %d) exceeds stream of %d bytes", i, n.Offset, n.End(), len(c.Stream)))
		}
	}
	return c, nil
}

func truncated(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, errs.ErrTruncated) {
		return fmt.Errorf("%w: %w", errs.ErrTruncated, err)
	}
	return err
}

func readErr(r *binio.Reader, err error) error {
	return errs.At(errs.StageRead, "", int64(r.Pos()), truncated(err))
}

func readHeader(r *binio.Reader, h *Header, available int64) error {
	var err error
	if h.Signature, err = r.CString(); err != nil {
		return errs.Kind(errs.ErrFormat, "missing signature")
	}
	if h.Signature != Signature {
		return errs.Kind(errs.ErrFormat, "signature %q", truncateString(h.Signature, 16))
	}
	if h.Version, err = r.U32(); err != nil {
		return err
	}
	if h.Version < MinFormatVersion || h.Version > MaxFormatVersion {
		return errs.Kind(errs.ErrFormat, "container version %d", h.Version)
	}
	if h.UnityVersion, err = r.CString(); err != nil {
		return err
	}
	if h.UnityRevision, err = r.CString(); err != nil {
		return err
	}
	if h.Size, err = r.I64(); err != nil {
		return err
	}
	if h.CompressedInfoSize, err = r.U32(); err != nil {
		return err
	}
	if h.UncompressedInfoSize, err = r.U32(); err != nil {
		return err
	}
	if h.Flags, err = r.U32(); err != nil {
		return err
	}
	if h.Size > available {
		return errs.Kind(errs.ErrTruncated, "declared size %d exceeds %d bytes", h.Size, available)
	}
	if int64(h.CompressedInfoSize) > available {
		return errs.Kind(errs.ErrTruncated, "blocks info size %d exceeds %d bytes", h.CompressedInfoSize, available)
	}
	if h.Version >= 7 {
		return r.Align(16)
	}
	return nil
}

func readBlocksInfo(r *binio.Reader, h Header, data []byte, codecs *Codecs) ([]byte, error) {
	var raw []byte
	if h.Flags&FlagInfoAtEnd != 0 {
		start := h.Size - int64(h.CompressedInfoSize)
		if h.Size == 0 {
			start = int64(len(data)) - int64(h.CompressedInfoSize)
		}
		if start < int64(r.Pos()) {
			return nil, errs.Kind(errs.ErrTruncated, "blocks info at %d overlaps header", start)
		}
		raw = data[start : start+int64(h.CompressedInfoSize)]
	} else {
		var err error
		if raw, err = r.Bytes(int(h.CompressedInfoSize)); err != nil {
			return nil, err
		}
	}
	info, err := codecs.Decompress(h.InfoCompression(), raw, int(h.UncompressedInfoSize))
	if err != nil {
		return nil, fmt.Errorf("blocks info: %w", err)
	}
	return info, nil
}

func readDirectory(r *binio.Reader, c *Container) error {
	hash, err := r.Bytes(16)
	if err != nil {
		return err
	}
	copy(c.Hash[:], hash)

	blockCount, err := r.Count(10)
	if err != nil {
		return err
	}
	c.Blocks = make([]Block, blockCount)
	for i := range c.Blocks {
		b := &c.Blocks[i]
		if b.UncompressedSize, err = r.U32(); err != nil {
			return err
		}
		if b.CompressedSize, err = r.U32(); err != nil {
			return err
		}
		if b.Flags, err = r.U16(); err != nil {
			return err
		}
	}

	nodeCount, err := r.Count(21)
	if err != nil {
		return err
	}
	c.Nodes = make([]Node, nodeCount)
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.Offset, err = r.I64(); err != nil {
			return err
		}
		if n.Size, err = r.I64(); err != nil {
			return err
		}
		if n.Flags, err = r.U32(); err != nil {
			return err
		}
		if n.Path, err = r.CString(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) inflate(ctx context.Context, r *binio.Reader, codecs *Codecs, opts *ReaderOptions) error {
	limit := opts.MaxSize
	if limit <= 0 {
		limit = DefaultMaxStreamSize
	}
	var total int64
	type span struct {
		src       []byte
		dst, size int64
	}
	spans := make([]span, len(c.Blocks))
	for i, b := range c.Blocks {
		src, err := r.Bytes(int(b.CompressedSize))
		if err != nil {
			return errs.At(errs.StageRead, "", int64(r.Pos()),
				errs.Kind(errs.ErrTruncated, "block %d of %d bytes runs past end of file", i, b.CompressedSize))
		}
		if err := checkBlockSize(b); err != nil {
			return errs.At(errs.StageRead, "", int64(r.Pos()), fmt.Errorf("block %d: %w", i, err))
		}
		spans[i] = span{src: src, dst: total, size: int64(b.UncompressedSize)}
		total += int64(b.UncompressedSize)
		if total > limit {
			return errs.At(errs.StageRead, "", int64(r.Pos()),
				errs.Kind(errs.ErrFormat, "blocks declare more than %d decompressed bytes", limit))
		}
	}
	c.Stream = make([]byte, total)

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	var done atomic.Int64
	for i, s := range spans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			codec, err := codecs.Get(c.Blocks[i].Compression())
			if err != nil {
				return errs.At(errs.StageRead, "", -1, fmt.Errorf("block %d: %w", i, err))
			}
			if err := codec.Decompress(c.Stream[s.dst:s.dst+s.size], s.src); err != nil {
				return errs.At(errs.StageRead, "", -1, fmt.Errorf("block %d: %w", i, err))
			}
			if opts.Progress != nil {
				opts.Progress(int(done.Add(1)), len(spans), "Decompressing blocks")
			}
			return nil
		})
	}
	return g.Wait()
}

// checkBlockSize rejects block sizes no codec could produce from the stored
// bytes.
func checkBlockSize(b Block) error {
	u, c := int64(b.UncompressedSize), int64(b.CompressedSize)
	switch b.Compression() {
	case CompressionNone:
		if u != c {
			return errs.Kind(errs.ErrFormat, "stored block declares %d bytes but holds %d", u, c)
		}
	case CompressionLZ4, CompressionLZ4HC:
		if u > c*lz4MaxRatio {
			return errs.Kind(errs.ErrFormat, "lz4 block of %d bytes cannot expand to %d", c, u)
		}
	}
	return nil
}

func truncateString(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// ReadAt reads from the decompressed node stream.
func (c *Container) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(c.Stream)) {
		return 0, io.EOF
	}
	n := copy(p, c.Stream[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// FS exposes the container's nodes as a read-only filesystem.
func (c *Container) FS() fs.FS {
	files := make([]nodeFile, len(c.Nodes))
	for i, n := range c.Nodes {
		files[i] = nodeFile{path: strings.TrimPrefix(path.Clean("/"+n.Path), "/"), node: i}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})
	return &nodeFS{c: c, files: files}
}

type nodeFile struct {
	path string
	node int
}

// nodeFS implements fs.FS over container nodes
type nodeFS struct {
	c     *Container
	files []nodeFile
}

func (nfs *nodeFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	files := nfs.files

	if name == "." {
		return &nodeDir{fs: nfs, prefix: "", offset: 0}, nil
	}

	idx := sort.Search(len(files), func(i int) bool {
		return files[i].path >= name
	})
	if idx < len(files) && files[idx].path == name {
		n := nfs.c.Nodes[files[idx].node]
		return &nodeHandle{
			info:   &files[idx],
			node:   n,
			reader: io.NewSectionReader(nfs.c, n.Offset, n.Size),
		}, nil
	}

	dirName := name + "/"
	idx += sort.Search(len(files)-idx, func(i int) bool {
		return files[idx+i].path >= dirName
	})
	if idx < len(files) && strings.HasPrefix(files[idx].path, dirName) {
		return &nodeDir{fs: nfs, prefix: dirName, offset: idx}, nil
	}

	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// nodeHandle implements fs.File for a node
type nodeHandle struct {
	info   *nodeFile
	node   Node
	reader *io.SectionReader
}

func (h *nodeHandle) Read(p []byte) (int, error) { return h.reader.Read(p) }
func (h *nodeHandle) Close() error               { return nil }
func (h *nodeHandle) Stat() (fs.FileInfo, error) {
	return &entryInfo{name: path.Base(h.info.path), size: h.node.Size}, nil
}

// nodeDir implements fs.ReadDirFile for a directory prefix
type nodeDir struct {
	fs     *nodeFS
	prefix string
	offset int
}

func (d *nodeDir) Read([]byte) (int, error) { return 0, fmt.Errorf("is a directory") }
func (d *nodeDir) Close() error             { return nil }
func (d *nodeDir) Stat() (fs.FileInfo, error) {
	name := path.Base(strings.TrimSuffix(d.prefix, "/"))
	if d.prefix == "" {
		name = "."
	}
	return &entryInfo{name: name, dir: true}, nil
}

func (d *nodeDir) ReadDir(n int) ([]fs.DirEntry, error) {
	files := d.fs.files
	prefixLen := len(d.prefix)
	entries := []fs.DirEntry{}

	for d.offset < len(files) {
		fi := &files[d.offset]
		if !strings.HasPrefix(fi.path, d.prefix) {
			break
		}

		slashIdx := strings.Index(fi.path[prefixLen:], "/")
		if slashIdx != -1 {
			dir := fi.path[:prefixLen+slashIdx]
			entries = append(entries, &entryInfo{name: path.Base(dir), dir: true})
			d.offset += sort.Search(len(files)-d.offset, func(i int) bool {
				return files[d.offset+i].path >= dir+"/\xff"
			})
		} else {
			size := d.fs.c.Nodes[fi.node].Size
			entries = append(entries, &entryInfo{name: path.Base(fi.path), size: size})
			d.offset++
		}

		if n > 0 && len(entries) >= n {
			return entries, nil
		}
	}

	if n > 0 && len(entries) == 0 {
		return entries, io.EOF
	}
	return entries, nil
}

// entryInfo implements fs.FileInfo and fs.DirEntry
type entryInfo struct {
	name string
	size int64
	dir  bool
}

func (e *entryInfo) Name() string { return e.name }
func (e *entryInfo) Size() int64  { return e.size }
func (e *entryInfo) Mode() fs.FileMode {
	if e.dir {
		return 0o444 | fs.ModeDir
	}
	return 0o444
}
func (e *entryInfo) ModTime() time.Time         { return time.Unix(0, 0) }
func (e *entryInfo) IsDir() bool                { return e.dir }
func (e *entryInfo) Sys() any                   { return nil }
func (e *entryInfo) Type() fs.FileMode          { return e.Mode().Type() }
func (e *entryInfo) Info() (fs.FileInfo, error) { return e, nil }
