package patch

import (
	"fmt"
	"os"
)

const ppfDizMarker = "@BEGIN_FILE_ID.DIZ"

func applyPPF(data []byte, target *os.File) error {
	r := newPatchReader(data)
	magic, err := r.next(5)
	if err != nil {
		return err
	}
	if string(magic[:3]) != "PPF" {
		return fmt.Errorf("%w: bad PPF magic %q", ErrMalformed, magic)
	}
	encoding, err := r.u8()
	if err != nil {
		return err
	}
	version := int(encoding) + 1
	if string(magic[3:]) != fmt.Sprintf("%d0", version) {
		return fmt.Errorf("%w: PPF header has an invalid version", ErrMalformed)
	}
	if err := r.skip(50); err != nil {
		return err
	}

	offsetLen := 4
	blockCheck, undo := false, false
	switch version {
	case 1:
	case 2:
		if err := r.skip(4); err != nil {
			return err
		}
		blockCheck = true
	case 3:
		if err := r.skip(1); err != nil {
			return err
		}
		b, err := r.next(3)
		if err != nil {
			return err
		}
		blockCheck, undo = b[0] == 0x01, b[1] == 0x01
		offsetLen = 8
	default:
		return fmt.Errorf("%w: PPF v%d", ErrUnsupported, version)
	}
	if blockCheck {
		if err := r.skip(1024); err != nil {
			return err
		}
	}

	for !r.eof() && !r.peekEquals(ppfDizMarker) {
		off, err := r.uintLE(offsetLen)
		if err != nil {
			return err
		}
		n, err := r.u8()
		if err != nil {
			return err
		}
		payload, err := r.next(int(n))
		if err != nil {
			return err
		}
		if undo {
			if err := r.skip(int(n)); err != nil {
				return err
			}
		}
		if _, err := target.WriteAt(payload, int64(off)); err != nil {
			return err
		}
	}
	return nil
}
