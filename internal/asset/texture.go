package asset

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"

	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/typetree"
)

// TextureFormat is Unity's pixel format id.
type TextureFormat int32

const (
	Alpha8   TextureFormat = 1
	ARGB4444 TextureFormat = 2
	RGB24    TextureFormat = 3
	RGBA32   TextureFormat = 4
	ARGB32   TextureFormat = 5
	RGB565   TextureFormat = 7
	R16      TextureFormat = 9
	RGBA4444 TextureFormat = 13
	BGRA32   TextureFormat = 14
	R8       TextureFormat = 63
)

var formatNames = map[TextureFormat]string{
	Alpha8: "Alpha8", ARGB4444: "ARGB4444", RGB24: "RGB24", RGBA32: "RGBA32",
	ARGB32: "ARGB32", RGB565: "RGB565", R16: "R16", RGBA4444: "RGBA4444",
	BGRA32: "BGRA32", R8: "R8",
	10: "DXT1", 12: "DXT5", 25: "BC7", 34: "ETC_RGB4", 47: "ETC2_RGBA8", 48: "ASTC_4x4",
}

func (f TextureFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "Unknown"
}

// BytesPerPixel returns the pixel size of uncompressed formats, or zero.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case Alpha8, R8:
		return 1
	case ARGB4444, RGB565, R16, RGBA4444:
		return 2
	case RGB24:
		return 3
	case RGBA32, ARGB32, BGRA32:
		return 4
	}
	return 0
}

// StreamData locates pixel data held in a resource node.
type StreamData struct {
	Path   string
	Offset uint64
	Size   uint32
}

// Texture2D is class 28. Pixels holds the raw pixel buffer, read from the
// resource node when the texture is streamed.
type Texture2D struct {
	Name     string
	Width    int
	Height   int
	Format   TextureFormat
	MipCount int
	Pixels   []byte
	Stream   *StreamData

	src source
}

func (t *Texture2D) AssetName() string { return t.Name }
func (t *Texture2D) ClassID() int32    { return serialized.ClassTexture2D }

// Streamed reports whether the pixels live in a resource node.
func (t *Texture2D) Streamed() bool {
	return t.Stream != nil && t.Stream.Path != ""
}

func decodeTexture2D(src source, res Resources) (Decoded, error) {
	v := src.value
	t := &Texture2D{src: src, MipCount: 1}
	var ok bool
	if t.Name, ok = v.String("m_Name"); !ok {
		return nil, missing("Texture2D", "m_Name")
	}
	ints := []struct {
		field string
		dst   *int
	}{
		{"m_Width", &t.Width},
		{"m_Height", &t.Height},
	}
	for _, f := range ints {
		n, ok := v.Int(f.field)
		if !ok {
			return nil, missing("Texture2D", f.field)
		}
		*f.dst = int(n)
	}
	format, ok := v.Int("m_TextureFormat")
	if !ok {
		return nil, missing("Texture2D", "m_TextureFormat")
	}
	t.Format = TextureFormat(format)
	if mips, ok := v.Int("m_MipCount"); ok {
		t.MipCount = int(mips)
	}
	if _, ok := v.Int("m_CompleteImageSize"); !ok {
		return nil, missing("Texture2D", "m_CompleteImageSize")
	}
	pixels, ok := v.Bytes("image data")
	if !ok {
		return nil, missing("Texture2D", "image data")
	}
	t.Pixels = pixels

	sd, ok := v.Struct("m_StreamData")
	if !ok {
		return t, nil
	}
	stream, err := readStreamData(sd)
	if err != nil {
		return nil, err
	}
	t.Stream = stream
	if !t.Streamed() || stream.Size == 0 {
		return t, nil
	}
	if res == nil {
		return nil, errs.Kind(errs.ErrFormat, "texture %q is streamed from %q but no resources were given", t.Name, stream.Path)
	}
	_, data, err := res.Resource(stream.Path)
	if err != nil {
		return nil, err
	}
	end := stream.Offset + uint64(stream.Size)
	if end > uint64(len(data)) {
		return nil, errs.Kind(errs.ErrTruncated, "stream range [%d, %d) exceeds %q of %d bytes", stream.Offset, end, stream.Path, len(data))
	}
	t.Pixels = data[stream.Offset:end]
	return t, nil
}

func readStreamData(sd *typetree.Struct) (*StreamData, error) {
	offset, ok := sd.Int("offset")
	if !ok {
		return nil, missing("Texture2D", "m_StreamData.offset")
	}
	size, ok := sd.Int("size")
	if !ok {
		return nil, missing("Texture2D", "m_StreamData.size")
	}
	p, ok := sd.String("path")
	if !ok {
		return nil, missing("Texture2D", "m_StreamData.path")
	}
	return &StreamData{Path: p, Offset: uint64(offset), Size: uint32(size)}, nil
}

func (t *Texture2D) encode() ([]byte, []byte, error) {
	v := t.src.value
	if v == nil {
		return nil, nil, missing("Texture2D", "source layout")
	}
	out := &typetree.Struct{Type: v.Type, Fields: append([]typetree.Field(nil), v.Fields...)}
	out.Set("m_Name", t.Name)
	out.SetInt("m_Width", int64(t.Width))
	out.SetInt("m_Height", int64(t.Height))
	out.SetInt("m_CompleteImageSize", int64(len(t.Pixels)))
	out.SetInt("m_TextureFormat", int64(t.Format))
	out.SetInt("m_MipCount", int64(t.MipCount))

	var resource []byte
	if t.Streamed() {
		sd, ok := out.Struct("m_StreamData")
		if !ok {
			return nil, nil, missing("Texture2D", "m_StreamData")
		}
		stream := &typetree.Struct{Type: sd.Type, Fields: append([]typetree.Field(nil), sd.Fields...)}
		stream.SetInt("offset", int64(t.Stream.Offset))
		stream.SetInt("size", int64(len(t.Pixels)))
		out.Set("m_StreamData", stream)
		out.Set("image data", []byte{})
		resource = t.Pixels
	} else {
		out.Set("image data", t.Pixels)
	}

	data, err := typetree.Write(t.src.root, out, t.src.order)
	if err != nil {
		return nil, nil, err
	}
	return data, resource, nil
}

// Image converts the first mip level to an image with the top row first.
func (t *Texture2D) Image() (image.Image, error) {
	bpp := t.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, errs.Kind(errs.ErrUnsupportedAssetType, "texture format %s (%d) cannot be converted", t.Format, t.Format)
	}
	if t.Width <= 0 || t.Height <= 0 {
		return nil, errs.Kind(errs.ErrFormat, "texture %q is %dx%d", t.Name, t.Width, t.Height)
	}
	need := t.Width * t.Height * bpp
	if len(t.Pixels) < need {
		return nil, errs.Kind(errs.ErrTruncated, "texture %q has %d of %d pixel bytes", t.Name, len(t.Pixels), need)
	}

	img := image.NewNRGBA(image.Rect(0, 0, t.Width, t.Height))
	order := t.src.order
	for row := 0; row < t.Height; row++ {
		y := t.Height - 1 - row
		for x := 0; x < t.Width; x++ {
			p := t.Pixels[(row*t.Width+x)*bpp:]
			var c color.NRGBA
			switch t.Format {
			case Alpha8:
				c = color.NRGBA{255, 255, 255, p[0]}
			case R8:
				c = color.NRGBA{p[0], 0, 0, 255}
			case RGB24:
				c = color.NRGBA{p[0], p[1], p[2], 255}
			case RGBA32:
				c = color.NRGBA{p[0], p[1], p[2], p[3]}
			case ARGB32:
				c = color.NRGBA{p[1], p[2], p[3], p[0]}
			case BGRA32:
				c = color.NRGBA{p[2], p[1], p[0], p[3]}
			case R16:
				c = color.NRGBA{uint8(u16(order, p) >> 8), 0, 0, 255}
			case RGB565:
				v := u16(order, p)
				c = color.NRGBA{expand(v>>11, 5), expand(v>>5&0x3f, 6), expand(v&0x1f, 5), 255}
			case ARGB4444:
				v := u16(order, p)
				c = color.NRGBA{expand(v>>8&0xf, 4), expand(v>>4&0xf, 4), expand(v&0xf, 4), expand(v>>12, 4)}
			case RGBA4444:
				v := u16(order, p)
				c = color.NRGBA{expand(v>>12, 4), expand(v>>8&0xf, 4), expand(v>>4&0xf, 4), expand(v&0xf, 4)}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img, nil
}

func u16(order binary.ByteOrder, p []byte) uint16 {
	if order == nil {
		return uint16(p[0]) | uint16(p[1])<<8
	}
	return order.Uint16(p)
}

func expand(v uint16, bits uint) uint8 {
	top := uint16(1)<<bits - 1
	return uint8(uint32(v&top) * 255 / uint32(top))
}

// SetImage replaces the pixels with img stored losslessly as RGBA32 with a
// single mip level. Dimensions follow the image.
func (t *Texture2D) SetImage(img image.Image) {
	b := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	pixels := make([]byte, w*h*4)
	for row := 0; row < h; row++ {
		y := h - 1 - row
		copy(pixels[row*w*4:(row+1)*w*4], nrgba.Pix[y*nrgba.Stride:y*nrgba.Stride+w*4])
	}
	t.Width = w
	t.Height = h
	t.Format = RGBA32
	t.MipCount = 1
	t.Pixels = pixels
}
