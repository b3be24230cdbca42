package scan

import (
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/romfile"
)

// Index looks up scanned files by full and by headerless CRC32. It is
// read-only once built.
type Index struct {
	files      []*romfile.File
	full       map[string][]*romfile.File
	headerless map[string][]*romfile.File
}

// NewIndex buckets files by checksum, keeping preference order in each bucket.
func NewIndex(files []*romfile.File, outputRoot string) *Index {
	ordered := append([]*romfile.File(nil), files...)
	sortFiles(ordered, outputRoot)
	idx := &Index{
		files:      ordered,
		full:       make(map[string][]*romfile.File, len(ordered)),
		headerless: make(map[string][]*romfile.File),
	}
	for _, f := range ordered {
		crc := model.NormalizeCRC(f.CRC32)
		idx.full[crc] = append(idx.full[crc], f)
		if f.Header != nil && f.HeaderlessCRC32 != "" {
			hcrc := model.NormalizeCRC(f.HeaderlessCRC32)
			idx.headerless[hcrc] = append(idx.headerless[hcrc], f)
		}
	}
	return idx
}

func (i *Index) Files() []*romfile.File {
	return i.files
}

// Find returns files whose content matches. A size of zero or less is
// treated as unknown and not compared.
func (i *Index) Find(crc string, size int64) []*romfile.File {
	return filterSize(i.full[model.NormalizeCRC(crc)], size, false)
}

// FindHeaderless matches against the checksum of the bytes after a header.
func (i *Index) FindHeaderless(crc string, size int64) []*romfile.File {
	return filterSize(i.headerless[model.NormalizeCRC(crc)], size, true)
}

func filterSize(files []*romfile.File, size int64, headerless bool) []*romfile.File {
	if size <= 0 || len(files) == 0 {
		return files
	}
	out := make([]*romfile.File, 0, len(files))
	for _, f := range files {
		got := f.Size
		if headerless {
			got = f.HeaderlessSize
		}
		if got == size {
			out = append(out, f)
		}
	}
	return out
}
