package serialized

import (
	"encoding/binary"
	"math"

	"github.com/jchantrell/abedit/internal/errs"
)

// Layout is the new position and size of an object within its data section.
type Layout struct {
	Start int64
	Size  uint32
}

// EncodePrefix returns a copy of everything before the data section with the
// object table rows and the header file size rewritten. Objects absent from
// layouts keep their current row.
func (f *File) EncodePrefix(layouts map[int64]Layout, fileSize int64) ([]byte, error) {
	prefix := make([]byte, f.Header.DataOffset)
	copy(prefix, f.Data[:f.Header.DataOffset])

	large := f.Header.Version >= verLargeFiles
	if large {
		binary.BigEndian.PutUint64(prefix[24:32], uint64(fileSize))
	} else {
		if fileSize > math.MaxUint32 {
			return nil, errs.Kind(errs.ErrPlanOverflow, "%s: file size %d exceeds format limit", f.Name, fileSize)
		}
		binary.BigEndian.PutUint32(prefix[4:8], uint32(fileSize))
	}

	for _, o := range f.Objects {
		l, ok := layouts[o.PathID]
		if !ok {
			continue
		}
		pos := o.startPos
		if large {
			f.order.PutUint64(prefix[pos:pos+8], uint64(l.Start))
			pos += 8
		} else {
			if l.Start > math.MaxUint32 {
				return nil, errs.Kind(errs.ErrPlanOverflow, "%s: path id %d start %d exceeds format limit", f.Name, o.PathID, l.Start)
			}
			f.order.PutUint32(prefix[pos:pos+4], uint32(l.Start))
			pos += 4
		}
		f.order.PutUint32(prefix[pos:pos+4], l.Size)
	}
	return prefix, nil
}
