package patch

import (
	"fmt"
	"io"
)

const (
	bpsSourceRead = iota
	bpsTargetRead
	bpsSourceCopy
	bpsTargetCopy
)

func bpsSigned(v uint64) int64 {
	n := int64(v >> 1)
	if v&1 != 0 {
		return -n
	}
	return n
}

func applyBPS(data []byte, source io.ReaderAt, sourceSize int64) ([]byte, error) {
	if len(data) < 4+12 || string(data[:4]) != "BPS1" {
		return nil, fmt.Errorf("%w: bad BPS header", ErrMalformed)
	}
	r := newPatchReader(data[:len(data)-12])
	r.pos = 4
	if _, err := r.vlv(); err != nil {
		return nil, err
	}
	targetSize, err := r.vlv()
	if err != nil {
		return nil, err
	}
	metaSize, err := r.vlv()
	if err != nil {
		return nil, err
	}
	if err := r.skip(int(metaSize)); err != nil {
		return nil, err
	}

	if targetSize > uint64(targetLimit(sourceSize, len(data))) {
		return nil, fmt.Errorf("%w: BPS target size %d too large", ErrMalformed, targetSize)
	}
	out := make([]byte, 0, min(int64(targetSize), sourceSize+int64(len(data))))
	var sourceRel, targetRel int64
	for !r.eof() {
		v, err := r.vlv()
		if err != nil {
			return nil, err
		}
		if v>>2 >= targetSize-uint64(len(out)) {
			return nil, fmt.Errorf("%w: BPS action past target size", ErrMalformed)
		}
		length := int64(v>>2) + 1
		switch v & 3 {
		case bpsSourceRead:
			buf, err := readFull(source, int64(len(out)), length, sourceSize)
			if err != nil {
				return nil, err
			}
			out = append(out, buf...)
		case bpsTargetRead:
			buf, err := r.next(int(length))
			if err != nil {
				return nil, err
			}
			out = append(out, buf...)
		case bpsSourceCopy:
			d, err := r.vlv()
			if err != nil {
				return nil, err
			}
			sourceRel += bpsSigned(d)
			buf, err := readFull(source, sourceRel, length, sourceSize)
			if err != nil {
				return nil, err
			}
			out = append(out, buf...)
			sourceRel += length
		case bpsTargetCopy:
			d, err := r.vlv()
			if err != nil {
				return nil, err
			}
			targetRel += bpsSigned(d)
			for i := int64(0); i < length; i++ {
				if targetRel < 0 || targetRel >= int64(len(out)) {
					return nil, fmt.Errorf("%w: BPS target copy out of range", ErrMalformed)
				}
				out = append(out, out[targetRel])
				targetRel++
			}
		}
	}
	if uint64(len(out)) != targetSize {
		return nil, fmt.Errorf("%w: BPS produced %d bytes, want %d", ErrMalformed, len(out), targetSize)
	}
	return out, nil
}

func bpsTargetSize(data []byte) (uint64, error) {
	if len(data) < 4 || string(data[:4]) != "BPS1" {
		return 0, fmt.Errorf("%w: bad BPS header", ErrMalformed)
	}
	r := newPatchReader(data)
	r.pos = 4
	if _, err := r.vlv(); err != nil {
		return 0, err
	}
	return r.vlv()
}
