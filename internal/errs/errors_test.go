package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageErrorUnwraps(t *testing.T) {
	err := ForObject(StageDecode, "CAB-1", 42, Kind(ErrUnsupportedAssetType, "class %d", 1))

	assert.True(t, errors.Is(err, ErrUnsupportedAssetType))
	assert.Equal(t, "decode CAB-1 path_id=42: unsupported asset type: class 1", err.Error())

	var se *StageError
	if assert.True(t, errors.As(err, &se)) {
		assert.Equal(t, StageDecode, se.Stage)
		assert.Equal(t, int64(42), *se.PathID)
	}
}

func TestAtOffset(t *testing.T) {
	err := At(StageRead, "", 128, ErrTruncated)
	assert.Equal(t, "read offset=128: truncated data", err.Error())
	assert.Nil(t, At(StageRead, "", 0, nil))
}
