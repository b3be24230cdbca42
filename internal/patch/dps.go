package patch

import (
	"fmt"
	"io"
)

const dpsHeaderSize = 198

const (
	dpsModeCopy = 0
	dpsModeData = 1
)

func applyDPS(data []byte, source io.ReaderAt, sourceSize int64) ([]byte, error) {
	if len(data) < dpsHeaderSize {
		return nil, errTruncated
	}
	r := newPatchReader(data)
	r.pos = dpsHeaderSize

	limit := uint64(targetLimit(sourceSize, len(data)))
	var out []byte
	place := func(off uint64, b []byte) error {
		if off > limit || uint64(len(b)) > limit-off {
			return fmt.Errorf("%w: DPS record at %d past size limit", ErrMalformed, off)
		}
		end := int(off) + len(b)
		if end > len(out) {
			out = append(out, make([]byte, end-len(out))...)
		}
		copy(out[off:], b)
		return nil
	}
	for !r.eof() {
		mode, _ := r.u8()
		outOff, err := r.uintLE(4)
		if err != nil {
			return nil, err
		}
		switch mode {
		case dpsModeCopy:
			inOff, err := r.uintLE(4)
			if err != nil {
				return nil, err
			}
			n, err := r.uintLE(4)
			if err != nil {
				return nil, err
			}
			buf, err := readFull(source, int64(inOff), int64(n), sourceSize)
			if err != nil {
				return nil, err
			}
			if err := place(outOff, buf); err != nil {
				return nil, err
			}
		case dpsModeData:
			n, err := r.uintLE(4)
			if err != nil {
				return nil, err
			}
			if n > uint64(r.remaining()) {
				return nil, errTruncated
			}
			buf, err := r.next(int(n))
			if err != nil {
				return nil, err
			}
			if err := place(outOff, buf); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: DPS mode %d", ErrMalformed, mode)
		}
	}
	return out, nil
}
