package dat

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/xxxsen/romsort/internal/model"
)

var smdbLineRegex = regexp.MustCompile(`(?i)^[0-9a-f]{64}\t[^\t]+\t[0-9a-f]{40}\t[0-9a-f]{32}\t[0-9a-f]{8}(\t[0-9]+)?\s*$`)

// SMDBParser reads tab separated hash databases (sha256, path, sha1, md5, crc32[, size]).
type SMDBParser struct{}

func NewSMDBParser() SMDBParser {
	return SMDBParser{}
}

// Parse builds a catalog named name; SMDB files carry no header.
func (p SMDBParser) Parse(r io.Reader, name string) (*model.Catalog, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var games []*model.Game
	seen := make(map[string]bool)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !smdbLineRegex.MatchString(line) {
			return nil, fmt.Errorf("decode smdb line %d: unexpected layout", lineNo)
		}
		cols := strings.Split(line, "\t")
		filePath := path.Clean(strings.ReplaceAll(cols[1], "\\", "/"))
		rom := model.ROM{
			Name:  path.Base(filePath),
			CRC32: model.NormalizeCRC(cols[4]),
			MD5:   strings.ToLower(cols[3]),
			SHA1:  strings.ToLower(cols[2]),
		}
		if len(cols) > 5 {
			size, err := parseSize(cols[5])
			if err != nil {
				return nil, fmt.Errorf("decode smdb line %d: %w", lineNo, err)
			}
			rom.Size = size
		}
		gameName := strings.TrimSuffix(filePath, path.Ext(filePath))
		if seen[gameName] {
			continue
		}
		seen[gameName] = true
		games = append(games, &model.Game{Name: gameName, Description: gameName, ROMs: []model.ROM{rom}})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read smdb: %w", err)
	}
	if len(games) == 0 {
		return nil, fmt.Errorf("decode smdb: no entries")
	}
	return model.NewCatalog(model.Header{Name: name, Description: name}, games), nil
}
