package patch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var errTruncated = fmt.Errorf("%w: unexpected end of patch", ErrMalformed)

// patchReader is a cursor over an in-memory patch body.
type patchReader struct {
	buf []byte
	pos int
}

func newPatchReader(buf []byte) *patchReader {
	return &patchReader{buf: buf}
}

func (r *patchReader) remaining() int { return len(r.buf) - r.pos }

func (r *patchReader) eof() bool { return r.pos >= len(r.buf) }

func (r *patchReader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, errTruncated
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *patchReader) peekEquals(s string) bool {
	if r.remaining() < len(s) {
		return false
	}
	return bytes.Equal(r.buf[r.pos:r.pos+len(s)], []byte(s))
}

func (r *patchReader) skip(n int) error {
	_, err := r.next(n)
	return err
}

func (r *patchReader) u8() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *patchReader) uintBE(n int) (uint64, error) {
	b, err := r.next(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func (r *patchReader) uintLE(n int) (uint64, error) {
	b, err := r.next(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// vlv reads the variable length integers of UPS and BPS.
func (r *patchReader) vlv() (uint64, error) {
	var data, shift uint64 = 0, 1
	for {
		x, err := r.u8()
		if err != nil {
			return 0, err
		}
		data += uint64(x&0x7f) * shift
		if x&0x80 != 0 {
			return data, nil
		}
		shift <<= 7
		data += shift
	}
}

// trailerCRCs reads the source, target and patch checksums of UPS and BPS.
func trailerCRCs(data []byte) (src, dst, self uint32, err error) {
	if len(data) < 12 {
		return 0, 0, 0, errTruncated
	}
	t := data[len(data)-12:]
	return binary.LittleEndian.Uint32(t[0:4]), binary.LittleEndian.Uint32(t[4:8]), binary.LittleEndian.Uint32(t[8:12]), nil
}

// xorAt XORs mask into f starting at off. Bytes past the end read as zero.
func xorAt(f *os.File, off int64, mask []byte) error {
	if len(mask) == 0 {
		return nil
	}
	buf := make([]byte, len(mask))
	if _, err := f.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	for i := range mask {
		buf[i] ^= mask[i]
	}
	_, err := f.WriteAt(buf, off)
	return err
}

// minTargetLimit is the output size every patch may reach regardless of
// its source.
const minTargetLimit = 64 << 20

// targetLimit bounds the output of a patch so that sizes read from a
// malformed patch fail before anything is allocated.
func targetLimit(sourceSize int64, patchSize int) int64 {
	limit := 4*sourceSize + 8*int64(patchSize)
	if limit < minTargetLimit {
		return minTargetLimit
	}
	return limit
}

// readFull reads exactly n bytes of src at off. The range is checked
// against size first.
func readFull(src io.ReaderAt, off, n, size int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("%w: negative source range", ErrMalformed)
	}
	if off > size || n > size-off {
		return nil, fmt.Errorf("%w: source range %d+%d past end %d", ErrMalformed, off, n, size)
	}
	buf := make([]byte, n)
	got, err := src.ReadAt(buf, off)
	if int64(got) == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read past end of source at %d", ErrMalformed, off+int64(got))
	}
	return nil, err
}
