package patch

import (
	"bytes"
	"fmt"
	"os"
)

const (
	ninjaHeaderSize = 0x800

	ninjaTerminate = 0x00
	ninjaOpen      = 0x01
	ninjaXOR       = 0x02
)

// ninjaVLV reads a length-prefixed little endian integer.
func (r *patchReader) ninjaVLV() (uint64, error) {
	n, err := r.u8()
	if err != nil {
		return 0, err
	}
	return r.uintLE(int(n))
}

func applyNinja(data []byte, target *os.File) error {
	if !bytes.HasPrefix(data, []byte("NINJA2")) {
		return fmt.Errorf("%w: bad NINJA magic", ErrMalformed)
	}
	if len(data) < ninjaHeaderSize {
		return errTruncated
	}
	r := newPatchReader(data)
	r.pos = ninjaHeaderSize

	opened := false
	var targetSize uint64
	for !r.eof() {
		cmd, _ := r.u8()
		switch cmd {
		case ninjaTerminate:
			r.pos = len(r.buf)
		case ninjaOpen:
			if opened {
				return fmt.Errorf("%w: multi-file NINJA patch", ErrUnsupported)
			}
			opened = true
			nameLen, err := r.ninjaVLV()
			if err != nil {
				return err
			}
			// file name, file type
			if err := r.skip(int(nameLen) + 1); err != nil {
				return err
			}
			sourceSize, err := r.ninjaVLV()
			if err != nil {
				return err
			}
			if targetSize, err = r.ninjaVLV(); err != nil {
				return err
			}
			// source and target md5
			if err := r.skip(32); err != nil {
				return err
			}
			if sourceSize != targetSize {
				mode, err := r.u8()
				if err != nil {
					return err
				}
				n, err := r.ninjaVLV()
				if err != nil {
					return err
				}
				overflow, err := r.next(int(n))
				if err != nil {
					return err
				}
				if mode == 'A' {
					inv := make([]byte, len(overflow))
					for i, b := range overflow {
						inv[i] = b ^ 0xff
					}
					if _, err := target.WriteAt(inv, int64(sourceSize)); err != nil {
						return err
					}
				}
			}
		case ninjaXOR:
			off, err := r.ninjaVLV()
			if err != nil {
				return err
			}
			n, err := r.ninjaVLV()
			if err != nil {
				return err
			}
			mask, err := r.next(int(n))
			if err != nil {
				return err
			}
			if err := xorAt(target, int64(off), mask); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: NINJA command 0x%02x", ErrMalformed, cmd)
		}
	}
	if !opened {
		return fmt.Errorf("%w: NINJA patch opens no file", ErrMalformed)
	}
	return target.Truncate(int64(targetSize))
}
