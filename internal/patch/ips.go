package patch

import (
	"bytes"
	"fmt"
	"os"
)

// applyIPS handles both IPS (24-bit offsets) and IPS32 (32-bit offsets).
func applyIPS(data []byte, target *os.File) error {
	r := newPatchReader(data)
	magic, err := r.next(5)
	if err != nil {
		return err
	}
	var (
		offsetLen int
		eof       string
	)
	switch string(magic) {
	case "PATCH":
		offsetLen, eof = 3, "EOF"
	case "IPS32":
		offsetLen, eof = 4, "EEOF"
	default:
		return fmt.Errorf("%w: bad IPS magic %q", ErrMalformed, magic)
	}
	for {
		if r.peekEquals(eof) {
			_ = r.skip(len(eof))
			break
		}
		off, err := r.uintBE(offsetLen)
		if err != nil {
			return err
		}
		size, err := r.uintBE(2)
		if err != nil {
			return err
		}
		var payload []byte
		if size == 0 {
			count, err := r.uintBE(2)
			if err != nil {
				return err
			}
			fill, err := r.u8()
			if err != nil {
				return err
			}
			payload = bytes.Repeat([]byte{fill}, int(count))
		} else {
			if payload, err = r.next(int(size)); err != nil {
				return err
			}
		}
		if _, err := target.WriteAt(payload, int64(off)); err != nil {
			return err
		}
	}
	if r.remaining() >= offsetLen {
		size, _ := r.uintBE(offsetLen)
		return target.Truncate(int64(size))
	}
	return nil
}
