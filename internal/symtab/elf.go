package symtab

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"defmtitm/internal/ocsd"
)

// DefmtSection is the ELF section holding log metadata symbols.
const DefmtSection = ".defmt"

// LoadELF reads log metadata from the ELF image at path.
func LoadELF(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := ParseELF(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseELF reads log metadata from an ELF image. Every symbol defined in the
// .defmt section describes one entry. Entries get their source location
// from the image's DWARF data when it has any; an image without usable debug
// info yields entries without locations.
func ParseELF(r io.ReaderAt) ([]Entry, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, imageError(err)
	}
	defer f.Close()

	secIdx := -1
	for i, s := range f.Sections {
		if s.Name == DefmtSection {
			secIdx = i
			break
		}
	}
	if secIdx < 0 {
		return nil, &BuildError{Code: ErrEmptyTable.Code, Reason: DefmtSection + " data not found"}
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, imageError(err)
	}

	var entries []Entry
	for _, sym := range syms {
		if int(sym.Section) != secIdx {
			continue
		}
		e, ok, err := ParseDefmtSymbol(sym.Value, sym.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, e)
		}
	}

	if locs := elfLocations(f); locs != nil {
		for i := range entries {
			if loc, ok := locs[entries[i].Index]; ok {
				entries[i].SetLocation(&loc)
			}
		}
	}
	return entries, nil
}

func elfLocations(f *elf.File) map[uint64]Location {
	if f.Section(".debug_info") == nil {
		return nil
	}
	d, err := f.DWARF()
	if err != nil {
		return nil
	}
	locs, err := readLocations(d, f.ByteOrder)
	if err != nil {
		return nil
	}
	return locs
}

func imageError(err error) *BuildError {
	return &BuildError{Code: ocsd.ErrTableBuild, Reason: fmt.Sprintf("invalid ELF image: %v", err)}
}
