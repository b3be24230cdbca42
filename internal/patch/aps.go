package patch

import (
	"bytes"
	"fmt"
	"os"
)

const apsGBABlockSize = 0x10000

func applyAPS(data []byte, target *os.File) error {
	switch {
	case bytes.HasPrefix(data, []byte("APS10")):
		return applyAPSN64(data, target)
	case bytes.HasPrefix(data, []byte("APS1")):
		return applyAPSGBA(data, target)
	}
	return fmt.Errorf("%w: bad APS magic", ErrMalformed)
}

func applyAPSN64(data []byte, target *os.File) error {
	r := newPatchReader(data)
	r.pos = 5
	kind, err := r.u8()
	if err != nil {
		return err
	}
	// encoding + description
	if err := r.skip(1 + 50); err != nil {
		return err
	}
	if kind == 1 {
		// original format, cart id, crc, padding
		if err := r.skip(1 + 3 + 8 + 5); err != nil {
			return err
		}
	}
	size, err := r.uintLE(4)
	if err != nil {
		return err
	}
	for !r.eof() {
		off, err := r.uintLE(4)
		if err != nil {
			return err
		}
		n, err := r.u8()
		if err != nil {
			return err
		}
		var payload []byte
		if n == 0 {
			fill, err := r.u8()
			if err != nil {
				return err
			}
			count, err := r.u8()
			if err != nil {
				return err
			}
			payload = bytes.Repeat([]byte{fill}, int(count))
		} else if payload, err = r.next(int(n)); err != nil {
			return err
		}
		if _, err := target.WriteAt(payload, int64(off)); err != nil {
			return err
		}
	}
	return target.Truncate(int64(size))
}

func applyAPSGBA(data []byte, target *os.File) error {
	r := newPatchReader(data)
	r.pos = 4
	if _, err := r.uintLE(4); err != nil {
		return err
	}
	size, err := r.uintLE(4)
	if err != nil {
		return err
	}
	for !r.eof() {
		off, err := r.uintLE(4)
		if err != nil {
			return err
		}
		// source and target crc16 of the block
		if err := r.skip(4); err != nil {
			return err
		}
		mask, err := r.next(apsGBABlockSize)
		if err != nil {
			return err
		}
		if err := xorAt(target, int64(off), mask); err != nil {
			return err
		}
	}
	return target.Truncate(int64(size))
}
