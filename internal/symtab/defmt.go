package symtab

import (
	"encoding/json"
	"fmt"
	"strings"
)

// defmtSymbol is the JSON object defmt encodes into each .defmt symbol name.
type defmtSymbol struct {
	Package       string `json:"package"`
	Tag           string `json:"tag"`
	Data          string `json:"data"`
	Disambiguator string `json:"disambiguator"`
	CrateName     string `json:"crate_name"`
}

// ParseDefmtSymbol turns one .defmt section symbol into an Entry. The symbol
// value is the frame index. ok is false for symbols that carry no log
// metadata, such as the version and encoding markers.
func ParseDefmtSymbol(index uint64, name string) (e Entry, ok bool, err error) {
	if !strings.HasPrefix(name, "{") {
		return Entry{}, false, nil
	}

	var sym defmtSymbol
	if err := json.Unmarshal([]byte(name), &sym); err != nil {
		return Entry{}, false, fmt.Errorf("symbol at index %d: %w", index, err)
	}
	if !strings.HasPrefix(sym.Tag, "defmt_") {
		return Entry{}, false, nil
	}

	tag := strings.TrimPrefix(sym.Tag, "defmt_")
	return Entry{
		Index:  index,
		Level:  ParseLevel(tag),
		Tag:    tag,
		Format: sym.Data,
	}, true, nil
}
