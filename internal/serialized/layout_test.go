package serialized_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/testbundle"
)

func twoObjects(version uint32) []byte {
	return testbundle.Serialized(testbundle.Spec{
		Version: version,
		Objects: []testbundle.Object{
			{PathID: 1, Tree: testbundle.OpaqueTree, Data: testbundle.Opaque(1)},
			{PathID: 2, Tree: testbundle.OpaqueTree, Data: testbundle.Opaque(2)},
		},
	})
}

func TestEncodePrefix(t *testing.T) {
	for _, v := range []uint32{17, 22} {
		data := twoObjects(v)
		pristine := append([]byte(nil), data...)
		f, err := serialized.Parse("CAB", 0, data)
		require.NoError(t, err)

		prefix, err := f.EncodePrefix(map[int64]serialized.Layout{2: {Start: 16, Size: 12}}, 4096)
		require.NoError(t, err)
		require.Len(t, prefix, int(f.Header.DataOffset))

		// splice the prefix onto a data section that fits the new rows
		out := append(prefix, make([]byte, 4096-len(prefix))...)
		g, err := serialized.Parse("CAB", 0, out)
		require.NoError(t, err, "version %d", v)
		assert.Equal(t, int64(4096), g.Header.FileSize)

		o, _ := g.Object(2)
		assert.Equal(t, int64(16), o.ByteStart)
		assert.Equal(t, uint32(12), o.ByteSize)

		first, _ := g.Object(1)
		orig, _ := f.Object(1)
		assert.Equal(t, orig.ByteStart, first.ByteStart)
		assert.Equal(t, orig.ByteSize, first.ByteSize)

		// the source file is untouched
		assert.Equal(t, pristine, f.Data)
	}
}

func TestEncodePrefixOverflow(t *testing.T) {
	f, err := serialized.Parse("CAB", 0, twoObjects(17))
	require.NoError(t, err)

	_, err = f.EncodePrefix(nil, 1<<33)
	assert.ErrorIs(t, err, errs.ErrPlanOverflow)

	_, err = f.EncodePrefix(map[int64]serialized.Layout{1: {Start: 1 << 33, Size: 4}}, 100)
	assert.ErrorIs(t, err, errs.ErrPlanOverflow)
}

func TestIndexOverlapAndRange(t *testing.T) {
	data := twoObjects(22)
	f, err := serialized.Parse("CAB", 0, data)
	require.NoError(t, err)
	second, _ := f.Object(2)

	overlap := append([]byte(nil), data...)
	binary.LittleEndian.PutUint64(overlap[serialized.RowPos(second):], 0)
	_, err = serialized.Parse("CAB", 0, overlap)
	assert.ErrorIs(t, err, errs.ErrFormat)

	beyond := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(beyond[serialized.RowPos(second)+8:], 1<<20)
	_, err = serialized.Parse("CAB", 0, beyond)
	assert.ErrorIs(t, err, errs.ErrTruncated)
}
