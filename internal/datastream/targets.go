package datastream

import (
	"fmt"
	"io"
	"math"
)

// targets resolves a seek request into object-space: the target object and
// in-object data offset, the bytes remaining to the file's available end, and
// the data capacity per object.
type targets struct {
	objNo      uint64
	offset     uint64 // data offset within the object (recovery header excluded)
	remaining  uint64
	dataPerObj uint64
}

// getTargets converts (offset, whence) into absolute positions for the
// current file. Whence follows the io.Seek* constants.
func (s *Stream) getTargets(offset int64, whence int) (targets, error) {
	curtag := s.files[s.curFile].ftag
	dataPerObj := uint64(math.MaxUint64)
	if curtag.ObjSize != 0 {
		dataPerObj = curtag.ObjSize - (curtag.RecoveryBytes + s.recoveryHeaderLen)
	}
	minObj := curtag.ObjNo
	minOffset := curtag.Offset - s.recoveryHeaderLen // data already packed ahead of this file

	// convert to an absolute offset from the start of the file
	abs := offset
	switch whence {
	case io.SeekEnd:
		abs += int64(curtag.AvailBytes)
	case io.SeekCurrent:
		if s.objNo > minObj {
			abs += int64(dataPerObj - minOffset)
			abs += int64(s.objNo-(minObj+1)) * int64(dataPerObj)
			if s.offset != 0 {
				abs += int64(s.offset - s.recoveryHeaderLen)
			}
		} else if s.offset != 0 {
			abs += int64((s.offset - s.recoveryHeaderLen) - minOffset)
		}
	case io.SeekStart:
	default:
		return targets{}, fmt.Errorf("%w: unknown whence value %d", ErrInvalidArgument, whence)
	}
	// a create stream's written data runs ahead of AvailBytes until the file
	// is finalized
	end := curtag.AvailBytes
	if s.stype == CreateStream && curtag.Bytes > end {
		end = curtag.Bytes
	}
	if abs > int64(end) {
		return targets{}, fmt.Errorf("%w: offset %d extends beyond end of file", ErrInvalidArgument, abs)
	}
	if abs < 0 {
		return targets{}, fmt.Errorf("%w: offset %d extends prior to beginning of file", ErrInvalidArgument, abs)
	}

	tgt := targets{
		objNo:      minObj,
		offset:     minOffset,
		remaining:  end - uint64(abs),
		dataPerObj: dataPerObj,
	}
	if uint64(abs)+minOffset >= dataPerObj {
		// crossing object boundaries
		skip := uint64(abs) - (dataPerObj - minOffset)
		tgt.objNo += skip/dataPerObj + 1
		tgt.offset = skip % dataPerObj
	} else {
		tgt.offset += uint64(abs)
	}
	return tgt, nil
}
