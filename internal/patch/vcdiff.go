package patch

import (
	"bytes"
	"fmt"
	"io"
)

var vcdiffMagic = []byte{0xd6, 0xc3, 0xc4}

const (
	vcdDecompress = 0x01
	vcdCodeTable  = 0x02
	vcdAppHeader  = 0x04

	vcdSource  = 0x01
	vcdTarget  = 0x02
	vcdAdler32 = 0x04

	vcdNoop = 0
	vcdAdd  = 1
	vcdRun  = 2
	vcdCopy = 3

	vcdNearSize = 4
	vcdSameSize = 3
)

type vcdInstruction struct {
	kind byte
	size int
	mode int
}

type vcdCode [2]vcdInstruction

var vcdDefaultCodeTable = buildVCDCodeTable()

func buildVCDCodeTable() [256]vcdCode {
	var t [256]vcdCode
	i := 0
	t[i] = vcdCode{{kind: vcdRun}}
	i++
	for size := 0; size <= 17; size++ {
		t[i] = vcdCode{{kind: vcdAdd, size: size}}
		i++
	}
	for mode := 0; mode < 9; mode++ {
		t[i] = vcdCode{{kind: vcdCopy, mode: mode}}
		i++
		for size := 4; size <= 18; size++ {
			t[i] = vcdCode{{kind: vcdCopy, size: size, mode: mode}}
			i++
		}
	}
	for mode := 0; mode < 6; mode++ {
		for add := 1; add <= 4; add++ {
			for cp := 4; cp <= 6; cp++ {
				t[i] = vcdCode{{kind: vcdAdd, size: add}, {kind: vcdCopy, size: cp, mode: mode}}
				i++
			}
		}
	}
	for mode := 6; mode < 9; mode++ {
		for add := 1; add <= 4; add++ {
			t[i] = vcdCode{{kind: vcdAdd, size: add}, {kind: vcdCopy, size: 4, mode: mode}}
			i++
		}
	}
	for mode := 0; mode < 9; mode++ {
		t[i] = vcdCode{{kind: vcdCopy, size: 4, mode: mode}, {kind: vcdAdd, size: 1}}
		i++
	}
	return t
}

// vcdInt reads a big endian base-128 integer.
func (r *patchReader) vcdInt() (uint64, error) {
	var v uint64
	for i := 0; i < 10; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: VCDiff integer overflow", ErrMalformed)
}

type vcdAddressCache struct {
	near     [vcdNearSize]uint64
	nextSlot int
	same     [vcdSameSize * 256]uint64
}

func (c *vcdAddressCache) update(addr uint64) {
	c.near[c.nextSlot] = addr
	c.nextSlot = (c.nextSlot + 1) % vcdNearSize
	c.same[addr%uint64(len(c.same))] = addr
}

func (c *vcdAddressCache) decode(addrs *patchReader, here uint64, mode int) (uint64, error) {
	var addr uint64
	switch {
	case mode == 0:
		v, err := addrs.vcdInt()
		if err != nil {
			return 0, err
		}
		addr = v
	case mode == 1:
		v, err := addrs.vcdInt()
		if err != nil {
			return 0, err
		}
		if v > here {
			return 0, fmt.Errorf("%w: VCDiff address before start", ErrMalformed)
		}
		addr = here - v
	case mode-2 < vcdNearSize:
		v, err := addrs.vcdInt()
		if err != nil {
			return 0, err
		}
		addr = c.near[mode-2] + v
	default:
		b, err := addrs.u8()
		if err != nil {
			return 0, err
		}
		addr = c.same[(mode-2-vcdNearSize)*256+int(b)]
	}
	c.update(addr)
	return addr, nil
}

func applyVCDiff(data []byte, source io.ReaderAt, sourceSize int64) ([]byte, error) {
	r := newPatchReader(data)
	magic, err := r.next(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic[:3], vcdiffMagic) {
		return nil, fmt.Errorf("%w: bad VCDiff magic", ErrMalformed)
	}
	indicator, err := r.u8()
	if err != nil {
		return nil, err
	}
	if indicator&vcdDecompress != 0 {
		return nil, fmt.Errorf("%w: VCDiff secondary compression", ErrUnsupported)
	}
	if indicator&vcdCodeTable != 0 {
		return nil, fmt.Errorf("%w: VCDiff custom code table", ErrUnsupported)
	}
	if indicator&vcdAppHeader != 0 {
		n, err := r.vcdInt()
		if err != nil {
			return nil, err
		}
		if err := r.skip(int(n)); err != nil {
			return nil, err
		}
	}

	limit := targetLimit(sourceSize, len(data))
	var out []byte
	for !r.eof() {
		if out, err = vcdWindow(r, source, sourceSize, limit, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func vcdWindow(r *patchReader, source io.ReaderAt, sourceSize, limit int64, out []byte) ([]byte, error) {
	winIndicator, err := r.u8()
	if err != nil {
		return nil, err
	}
	var segment []byte
	if winIndicator&(vcdSource|vcdTarget) != 0 {
		segLen, err := r.vcdInt()
		if err != nil {
			return nil, err
		}
		segPos, err := r.vcdInt()
		if err != nil {
			return nil, err
		}
		if winIndicator&vcdSource != 0 {
			if segPos > uint64(sourceSize) || segLen > uint64(sourceSize)-segPos {
				return nil, fmt.Errorf("%w: VCDiff source segment past end", ErrMalformed)
			}
			if segment, err = readFull(source, int64(segPos), int64(segLen), sourceSize); err != nil {
				return nil, err
			}
		} else {
			if segPos > uint64(len(out)) || segLen > uint64(len(out))-segPos {
				return nil, fmt.Errorf("%w: VCDiff target segment past end", ErrMalformed)
			}
			segment = append([]byte(nil), out[segPos:segPos+segLen]...)
		}
	}
	// length of the delta encoding
	if _, err := r.vcdInt(); err != nil {
		return nil, err
	}
	windowLen, err := r.vcdInt()
	if err != nil {
		return nil, err
	}
	if windowLen > uint64(limit)-uint64(len(out)) {
		return nil, fmt.Errorf("%w: VCDiff window of %d bytes too large", ErrMalformed, windowLen)
	}
	deltaIndicator, err := r.u8()
	if err != nil {
		return nil, err
	}
	if deltaIndicator != 0 {
		return nil, fmt.Errorf("%w: VCDiff compressed sections", ErrUnsupported)
	}
	dataLen, err := r.vcdInt()
	if err != nil {
		return nil, err
	}
	instLen, err := r.vcdInt()
	if err != nil {
		return nil, err
	}
	addrLen, err := r.vcdInt()
	if err != nil {
		return nil, err
	}
	if winIndicator&vcdAdler32 != 0 {
		if err := r.skip(4); err != nil {
			return nil, err
		}
	}
	for _, n := range []uint64{dataLen, instLen, addrLen} {
		if n > uint64(r.remaining()) {
			return nil, errTruncated
		}
	}
	dataSec, err := r.next(int(dataLen))
	if err != nil {
		return nil, err
	}
	instSec, err := r.next(int(instLen))
	if err != nil {
		return nil, err
	}
	addrSec, err := r.next(int(addrLen))
	if err != nil {
		return nil, err
	}

	// u holds the source segment followed by the window being built
	u := make([]byte, len(segment), len(segment)+int(min(windowLen, uint64(len(dataSec)+len(segment)))))
	copy(u, segment)
	dataR, instR, addrR := newPatchReader(dataSec), newPatchReader(instSec), newPatchReader(addrSec)
	cache := &vcdAddressCache{}
	for !instR.eof() {
		idx, _ := instR.u8()
		for _, ins := range vcdDefaultCodeTable[idx] {
			if ins.kind == vcdNoop {
				continue
			}
			size := uint64(ins.size)
			if size == 0 {
				if size, err = instR.vcdInt(); err != nil {
					return nil, err
				}
			}
			if size > windowLen-uint64(len(u)-len(segment)) {
				return nil, fmt.Errorf("%w: VCDiff instruction past window end", ErrMalformed)
			}
			switch ins.kind {
			case vcdAdd:
				b, err := dataR.next(int(size))
				if err != nil {
					return nil, err
				}
				u = append(u, b...)
			case vcdRun:
				b, err := dataR.u8()
				if err != nil {
					return nil, err
				}
				u = append(u, bytes.Repeat([]byte{b}, int(size))...)
			case vcdCopy:
				addr, err := cache.decode(addrR, uint64(len(u)), ins.mode)
				if err != nil {
					return nil, err
				}
				for i := uint64(0); i < size; i++ {
					if addr+i >= uint64(len(u)) {
						return nil, fmt.Errorf("%w: VCDiff copy out of range", ErrMalformed)
					}
					u = append(u, u[addr+i])
				}
			}
		}
	}
	window := u[len(segment):]
	if uint64(len(window)) != windowLen {
		return nil, fmt.Errorf("%w: VCDiff window produced %d bytes, want %d", ErrMalformed, len(window), windowLen)
	}
	return append(out, window...), nil
}
