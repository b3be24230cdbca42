package patch

import (
	"fmt"
	"os"
)

func applyUPS(data []byte, target *os.File) error {
	if len(data) < 4+12 || string(data[:4]) != "UPS1" {
		return fmt.Errorf("%w: bad UPS header", ErrMalformed)
	}
	r := newPatchReader(data[:len(data)-12])
	r.pos = 4
	if _, err := r.vlv(); err != nil {
		return err
	}
	targetSize, err := r.vlv()
	if err != nil {
		return err
	}
	st, err := target.Stat()
	if err != nil {
		return err
	}
	limit := uint64(targetLimit(st.Size(), len(data)))
	if targetSize > limit {
		return fmt.Errorf("%w: UPS target size %d too large", ErrMalformed, targetSize)
	}
	var pos int64
	for !r.eof() {
		skip, err := r.vlv()
		if err != nil {
			return err
		}
		if uint64(pos) > limit || skip > limit-uint64(pos) {
			return fmt.Errorf("%w: UPS record past size limit", ErrMalformed)
		}
		pos += int64(skip)
		var mask []byte
		for !r.eof() {
			b, _ := r.u8()
			if b == 0 {
				break
			}
			mask = append(mask, b)
		}
		if err := xorAt(target, pos, mask); err != nil {
			return err
		}
		pos += int64(len(mask)) + 1
	}
	return target.Truncate(int64(targetSize))
}

// upsSizes returns the declared source and target sizes.
func upsSizes(data []byte) (uint64, uint64, error) {
	if len(data) < 4 || string(data[:4]) != "UPS1" {
		return 0, 0, fmt.Errorf("%w: bad UPS header", ErrMalformed)
	}
	r := newPatchReader(data)
	r.pos = 4
	src, err := r.vlv()
	if err != nil {
		return 0, 0, err
	}
	dst, err := r.vlv()
	return src, dst, err
}
