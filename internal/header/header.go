// Package header recognizes copier/dumper headers prepended to ROM data.
package header

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Header is a known fixed-size header format.
type Header struct {
	Name          string
	Offset        int
	Magic         []byte
	Size          int64
	HeaderedExt   string
	HeaderlessExt string
}

// Known lists every supported header, keyed by the extension its files use.
var Known = []*Header{
	{Name: "A7800", Offset: 1, Magic: []byte("ATARI7800"), Size: 128, HeaderedExt: ".a78", HeaderlessExt: ".a78"},
	{Name: "Lynx", Offset: 0, Magic: []byte("LYNX"), Size: 64, HeaderedExt: ".lnx", HeaderlessExt: ".lyx"},
	{Name: "iNES", Offset: 0, Magic: []byte("NES\x1a"), Size: 16, HeaderedExt: ".nes", HeaderlessExt: ".nes"},
	{Name: "FDS", Offset: 0, Magic: []byte("FDS\x1a"), Size: 16, HeaderedExt: ".fds", HeaderlessExt: ".fds"},
	{Name: "SMC", Offset: 3, Magic: make([]byte, 8), Size: 512, HeaderedExt: ".smc", HeaderlessExt: ".sfc"},
}

// ForExtension returns the headers that files with this extension may carry.
func ForExtension(ext string) []*Header {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	var out []*Header
	for _, h := range Known {
		if h.HeaderedExt == ext {
			out = append(out, h)
		}
	}
	return out
}

// Lookup finds a header by name.
func Lookup(name string) (*Header, bool) {
	for _, h := range Known {
		if strings.EqualFold(h.Name, name) {
			return h, true
		}
	}
	return nil, false
}

func (h *Header) peekLen() int {
	return h.Offset + len(h.Magic)
}

// Matches reports whether the leading bytes carry this header.
func (h *Header) Matches(lead []byte) bool {
	if len(lead) < h.peekLen() {
		return false
	}
	return bytes.Equal(lead[h.Offset:h.peekLen()], h.Magic)
}

// Detect reads the leading bytes of r and returns the first candidate header
// that matches, or nil.
func Detect(r io.Reader, candidates []*Header) (*Header, error) {
	need := 0
	for _, h := range candidates {
		if n := h.peekLen(); n > need {
			need = n
		}
	}
	if need == 0 {
		return nil, nil
	}
	lead := make([]byte, need)
	n, err := io.ReadFull(r, lead)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header bytes: %w", err)
	}
	lead = lead[:n]
	for _, h := range candidates {
		if h.Matches(lead) {
			return h, nil
		}
	}
	return nil, nil
}

// Strip copies everything after the header from r to w.
func (h *Header) Strip(w io.Writer, r io.Reader) (int64, error) {
	if _, err := io.CopyN(io.Discard, r, h.Size); err != nil {
		return 0, fmt.Errorf("skip %s header: %w", h.Name, err)
	}
	return io.Copy(w, r)
}

// SkipReader wraps r so reads start after the header.
func (h *Header) SkipReader(r io.Reader) (io.Reader, error) {
	if _, err := io.CopyN(io.Discard, r, h.Size); err != nil {
		return nil, fmt.Errorf("skip %s header: %w", h.Name, err)
	}
	return r, nil
}

// HeaderlessName swaps the headered extension for the headerless one.
func (h *Header) HeaderlessName(name string) string {
	if h.HeaderedExt == h.HeaderlessExt {
		return name
	}
	if strings.HasSuffix(strings.ToLower(name), h.HeaderedExt) {
		return name[:len(name)-len(h.HeaderedExt)] + h.HeaderlessExt
	}
	return name
}
