package testbundle

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"

	"github.com/jchantrell/abedit/internal/binio"
)

// Node is one sub-file of a container fixture.
type Node struct {
	Path  string
	Data  []byte
	Flags uint32
}

// SerializedNode wraps a serialized file as a flagged container node.
func SerializedNode(path string, data []byte) Node {
	return Node{Path: path, Data: data, Flags: 4}
}

// BundleOptions shapes the container layout.
type BundleOptions struct {
	// Version defaults to 7.
	Version uint32
	// BlockSize splits the stream into blocks; zero keeps a single block.
	BlockSize int
	// LZ4 compresses blocks and the blocks info with LZ4HC flags.
	LZ4       bool
	InfoAtEnd bool
	// PaddingAtStart aligns the first block to 16 bytes.
	PaddingAtStart bool
}

// Bundle encodes a UnityFS container holding nodes back to back.
func Bundle(nodes []Node, opts BundleOptions) []byte {
	version := opts.Version
	if version == 0 {
		version = 7
	}

	var stream []byte
	type entry struct {
		offset, size int64
	}
	entries := make([]entry, len(nodes))
	for i, n := range nodes {
		entries[i] = entry{int64(len(stream)), int64(len(n.Data))}
		stream = append(stream, n.Data...)
	}

	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = len(stream)
	}
	type block struct {
		usize, csize uint32
		flags        uint16
		data         []byte
	}
	var blocks []block
	for off := 0; off < len(stream) || (off == 0 && len(blocks) == 0); off += blockSize {
		end := min(off+blockSize, len(stream))
		raw := stream[off:end]
		b := block{usize: uint32(len(raw)), csize: uint32(len(raw)), data: raw}
		if opts.LZ4 {
			if c, ok := compress(raw); ok {
				b = block{usize: uint32(len(raw)), csize: uint32(len(c)), flags: 3, data: c}
			}
		}
		blocks = append(blocks, b)
		if end == len(stream) {
			break
		}
	}

	info := binio.NewWriter(binary.BigEndian)
	_, _ = info.Write(make([]byte, 16))
	info.I32(int32(len(blocks)))
	for _, b := range blocks {
		info.U32(b.usize)
		info.U32(b.csize)
		info.U16(b.flags)
	}
	info.I32(int32(len(nodes)))
	for i, n := range nodes {
		info.I64(entries[i].offset)
		info.I64(entries[i].size)
		info.U32(n.Flags)
		info.CString(n.Path)
	}
	rawInfo := info.Bytes()
	storedInfo := rawInfo
	flags := uint32(0x40)
	if opts.LZ4 {
		if c, ok := compress(rawInfo); ok {
			storedInfo = c
			flags |= 2
		}
	}
	if opts.InfoAtEnd {
		flags |= 0x80
	}
	if opts.PaddingAtStart {
		flags |= 0x200
	}

	w := binio.NewWriter(binary.BigEndian)
	w.CString("UnityFS")
	w.U32(version)
	w.CString("5.x.x")
	w.CString("2019.4.0f1")
	sizePos := w.Len()
	w.I64(0)
	w.U32(uint32(len(storedInfo)))
	w.U32(uint32(len(rawInfo)))
	w.U32(flags)
	if version >= 7 {
		w.Align(16)
	}
	if !opts.InfoAtEnd {
		_, _ = w.Write(storedInfo)
	}
	if opts.PaddingAtStart {
		w.Align(16)
	}
	for _, b := range blocks {
		_, _ = w.Write(b.data)
	}
	if opts.InfoAtEnd {
		_, _ = w.Write(storedInfo)
	}

	out := w.Bytes()
	binary.BigEndian.PutUint64(out[sizePos:], uint64(len(out)))
	return out
}

func compress(src []byte) ([]byte, bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlockHC(src, dst, lz4.Level9, nil, nil)
	if err != nil || n == 0 || n >= len(src) {
		return nil, false
	}
	return dst[:n], true
}
