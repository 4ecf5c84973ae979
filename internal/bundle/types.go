package bundle

import (
	"path"
	"strings"
)

// Signature identifies a UnityFS container.
const Signature = "UnityFS"

// Container format versions accepted by the reader.
const (
	MinFormatVersion = 6
	MaxFormatVersion = 8
)

// Header flags.
const (
	FlagCompressionMask = 0x3f
	FlagCombinedInfo    = 0x40
	FlagInfoAtEnd       = 0x80
	FlagOldWebPlugin    = 0x100
	FlagPaddingAtStart  = 0x200
)

// NodeFlagSerialized marks a node holding a serialized file.
const NodeFlagSerialized = 0x4

// Compression is the codec id stored in the low bits of block and header
// flags.
type Compression uint32

const (
	CompressionNone  Compression = 0
	CompressionLZMA  Compression = 1
	CompressionLZ4   Compression = 2
	CompressionLZ4HC Compression = 3
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZMA:
		return "lzma"
	case CompressionLZ4:
		return "lz4"
	case CompressionLZ4HC:
		return "lz4hc"
	}
	return "vendor"
}

// Header is the big-endian container preamble.
type Header struct {
	Signature            string
	Version              uint32
	UnityVersion         string
	UnityRevision        string
	Size                 int64
	CompressedInfoSize   uint32
	UncompressedInfoSize uint32
	Flags                uint32
}

// InfoCompression returns the codec of the blocks info section.
func (h Header) InfoCompression() Compression {
	return Compression(h.Flags & FlagCompressionMask)
}

// Block is one compressed chunk of the node stream.
type Block struct {
	UncompressedSize uint32
	CompressedSize   uint32
	Flags            uint16
}

func (b Block) Compression() Compression {
	return Compression(b.Flags & FlagCompressionMask)
}

// Node is a sub-file of the container, addressed within the decompressed
// node stream.
type Node struct {
	Offset int64
	Size   int64
	Flags  uint32
	Path   string
}

func (n Node) End() int64 {
	return n.Offset + n.Size
}

// IsSerialized reports whether the node is flagged as a serialized file.
func (n Node) IsSerialized() bool {
	return n.Flags&NodeFlagSerialized != 0
}

// IsResource reports whether the node holds streamed resource data.
func (n Node) IsResource() bool {
	ext := strings.ToLower(path.Ext(n.Path))
	return ext == ".ress" || ext == ".resource"
}

// Container is a parsed UnityFS file with its node stream decompressed.
type Container struct {
	Header Header
	Hash   [16]byte
	Blocks []Block
	Nodes  []Node
	Stream []byte
}

// NodeData returns a view of node i within the stream.
func (c *Container) NodeData(i int) []byte {
	n := c.Nodes[i]
	return c.Stream[n.Offset:n.End()]
}

// FindNode returns the index of the node whose path or base name matches
// name.
func (c *Container) FindNode(name string) (int, bool) {
	base := path.Base(name)
	for i, n := range c.Nodes {
		if n.Path == name {
			return i, true
		}
	}
	for i, n := range c.Nodes {
		if path.Base(n.Path) == base {
			return i, true
		}
	}
	return -1, false
}
