package symtab

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// tableFile is the on-disk layout of a YAML table:
//
//	entries:
//	  - index: 3
//	    level: info
//	    format: "count={}"
//	    args: [u32]
//	    file: src/main.rs
//	    line: 42
//	    module: app::sensor
type tableFile struct {
	Entries []Entry `yaml:"entries"`
}

// LoadYAML reads log metadata from a YAML table.
func LoadYAML(r io.Reader) ([]Entry, error) {
	var tf tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode table: %w", err)
	}
	return tf.Entries, nil
}

// UnmarshalYAML accepts level names in any case.
func (l *Level) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	*l = ParseLevel(name)
	if *l == LevelNone && name != "" && !isUntaggedName(name) {
		return fmt.Errorf("line %d: unknown level %q", value.Line, name)
	}
	return nil
}

// MarshalYAML writes the lower case level name.
func (l Level) MarshalYAML() (any, error) {
	if l == LevelNone {
		return "", nil
	}
	return strings.ToLower(l.String()), nil
}

func isUntaggedName(name string) bool {
	switch strings.ToLower(name) {
	case "none", "println", "write", "print":
		return true
	}
	return false
}
