package dat

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xxxsen/romsort/internal/model"
)

// Element tables drive the decoder; nothing is bound through struct tags.
var (
	gameElements = map[string]bool{"game": true, "machine": true, "software": true}

	headerFields = map[string]func(h *model.Header, v string){
		"name":        func(h *model.Header, v string) { h.Name = v },
		"description": func(h *model.Header, v string) { h.Description = v },
		"version":     func(h *model.Header, v string) { h.Version = v },
		"date":        func(h *model.Header, v string) { h.Date = v },
		"author":      func(h *model.Header, v string) { h.Author = v },
		"url":         func(h *model.Header, v string) { h.URL = v },
		"homepage": func(h *model.Header, v string) {
			if h.URL == "" {
				h.URL = v
			}
		},
	}

	gameAttrs = map[string]func(g *model.Game, v string){
		"name":     func(g *model.Game, v string) { g.Name = v },
		"cloneof":  func(g *model.Game, v string) { g.CloneOf = v },
		"romof":    func(g *model.Game, v string) { g.RomOf = v },
		"sampleof": func(g *model.Game, v string) { g.SampleOf = v },
		"isbios":   func(g *model.Game, v string) { g.Bios = v },
	}

	gameFields = map[string]func(g *model.Game, v string){
		"description": func(g *model.Game, v string) { g.Description = v },
	}

	romAttrs = map[string]func(r *model.ROM, v string) error{
		"name": func(r *model.ROM, v string) error { r.Name = v; return nil },
		"size": func(r *model.ROM, v string) error {
			n, err := parseSize(v)
			r.Size = n
			return err
		},
		"crc":    func(r *model.ROM, v string) error { r.CRC32 = model.NormalizeCRC(v); return nil },
		"md5":    func(r *model.ROM, v string) error { r.MD5 = strings.ToLower(v); return nil },
		"sha1":   func(r *model.ROM, v string) error { r.SHA1 = strings.ToLower(v); return nil },
		"status": func(r *model.ROM, v string) error { r.Status = v; return nil },
	}

	releaseAttrs = map[string]func(r *model.Release, v string){
		"name":     func(r *model.Release, v string) { r.Name = v },
		"region":   func(r *model.Release, v string) { r.Region = strings.ToUpper(v) },
		"language": func(r *model.Release, v string) { r.Language = strings.ToUpper(v) },
	}
)

func parseSize(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	base := 10
	if strings.HasPrefix(v, "0x") {
		v, base = v[2:], 16
	}
	n, err := strconv.ParseInt(v, base, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rom size %q: %w", v, err)
	}
	return n, nil
}

// XMLParser reads Logiqx datafiles and MAME machine lists.
type XMLParser struct{}

// NewXMLParser builds a fresh XML catalog parser.
func NewXMLParser() XMLParser {
	return XMLParser{}
}

// Parse consumes catalog XML content from the provided reader.
func (p XMLParser) Parse(r io.Reader) (*model.Catalog, error) {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false // DTD is referenced; relax strict parsing.
	decoder.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var (
		hdr     model.Header
		games   []*model.Game
		sawRoot bool
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml dat: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch name := start.Name.Local; {
		case name == "datafile" || name == "mame" || name == "softwarelist":
			sawRoot = true
			if name != "datafile" {
				for _, a := range start.Attr {
					if a.Name.Local == "description" {
						hdr.Description = a.Value
					}
					if a.Name.Local == "name" && hdr.Name == "" {
						hdr.Name = a.Value
					}
				}
			}
		case name == "header":
			if err := decodeHeader(decoder, &hdr); err != nil {
				return nil, err
			}
		case gameElements[name]:
			g, err := decodeGame(decoder, start)
			if err != nil {
				return nil, err
			}
			games = append(games, g)
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("decode xml dat: no datafile or mame root element")
	}
	return model.NewCatalog(hdr, games), nil
}

// elementText collects character data up to the matching end element,
// skipping any nested markup.
func elementText(decoder *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := decoder.Token()
		if err != nil {
			return "", fmt.Errorf("decode xml dat: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if depth == 0 {
				sb.Write(t)
			}
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return strings.TrimSpace(sb.String()), nil
			}
			depth--
		}
	}
}

func decodeHeader(decoder *xml.Decoder, hdr *model.Header) error {
	for {
		tok, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("decode xml dat header: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			set, ok := headerFields[t.Name.Local]
			if !ok {
				if err := decoder.Skip(); err != nil {
					return err
				}
				continue
			}
			v, err := elementText(decoder)
			if err != nil {
				return err
			}
			set(hdr, v)
		case xml.EndElement:
			return nil
		}
	}
}

func decodeGame(decoder *xml.Decoder, start xml.StartElement) (*model.Game, error) {
	g := &model.Game{}
	for _, a := range start.Attr {
		if set, ok := gameAttrs[a.Name.Local]; ok {
			set(g, a.Value)
		}
	}
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("decode xml dat game %q: %w", g.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch name := t.Name.Local; {
			case name == "rom":
				rom := model.ROM{}
				for _, a := range t.Attr {
					set, ok := romAttrs[a.Name.Local]
					if !ok {
						continue
					}
					if err := set(&rom, a.Value); err != nil {
						return nil, fmt.Errorf("game %q: %w", g.Name, err)
					}
				}
				g.ROMs = append(g.ROMs, rom)
				if err := decoder.Skip(); err != nil {
					return nil, err
				}
			case name == "release":
				rel := model.Release{}
				for _, a := range t.Attr {
					if set, ok := releaseAttrs[a.Name.Local]; ok {
						set(&rel, a.Value)
					}
				}
				g.Releases = append(g.Releases, rel)
				if err := decoder.Skip(); err != nil {
					return nil, err
				}
			case name == "part" || name == "dataarea":
				// software list roms are nested one or two levels down
				continue
			default:
				set, ok := gameFields[name]
				if !ok {
					if err := decoder.Skip(); err != nil {
						return nil, err
					}
					continue
				}
				v, err := elementText(decoder)
				if err != nil {
					return nil, err
				}
				set(g, v)
			}
		case xml.EndElement:
			if gameElements[t.Name.Local] {
				if g.Name == "" {
					return nil, fmt.Errorf("decode xml dat: game without a name")
				}
				return g, nil
			}
		}
	}
}
