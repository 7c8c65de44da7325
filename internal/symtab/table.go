package symtab

import (
	"errors"
	"fmt"
	"sort"

	"defmtitm/internal/common"
	"defmtitm/internal/ocsd"
)

// TagStr marks an interned string entry. Its format is the string itself and
// is never parsed for placeholders.
const TagStr = "str"

// Build error sentinels, for use with errors.Is.
var (
	ErrEmptyTable     = common.NewError(ocsd.ErrSevError, ocsd.ErrTableNotFound)
	ErrDuplicateIndex = common.NewError(ocsd.ErrSevError, ocsd.ErrDuplicateIndex)
	ErrFormatString   = common.NewError(ocsd.ErrSevError, ocsd.ErrFormatString)
	ErrArgMismatch    = common.NewError(ocsd.ErrSevError, ocsd.ErrArgMismatch)
	ErrUnknownArgType = common.NewError(ocsd.ErrSevError, ocsd.ErrUnknownArgType)
)

// Entry is one row of log metadata as produced by a loader. File, Line and
// Module locate the log statement in the firmware source when known.
type Entry struct {
	Index  uint64   `yaml:"index"`
	Level  Level    `yaml:"level"`
	Tag    string   `yaml:"tag,omitempty"`
	Format string   `yaml:"format"`
	Args   []string `yaml:"args,omitempty"`
	File   string   `yaml:"file,omitempty"`
	Line   uint64   `yaml:"line,omitempty"`
	Module string   `yaml:"module,omitempty"`
}

// Location returns the entry's source location, or nil if it has none.
func (e *Entry) Location() *Location {
	if e.File == "" && e.Line == 0 && e.Module == "" {
		return nil
	}
	return &Location{File: e.File, Line: e.Line, Module: e.Module}
}

// SetLocation copies loc into the entry; nil clears it.
func (e *Entry) SetLocation(loc *Location) {
	if loc == nil {
		loc = &Location{}
	}
	e.File, e.Line, e.Module = loc.File, loc.Line, loc.Module
}

// FormatDescriptor is the resolved, immutable form of an Entry.
type FormatDescriptor struct {
	Index    uint64
	Level    Level
	Tag      string
	Format   string
	Args     []ArgType
	Pieces   []Piece
	Location *Location
}

// Interned reports whether the descriptor is an interned string.
func (d *FormatDescriptor) Interned() bool {
	return d.Tag == TagStr
}

// BuildError reports metadata that cannot form a table.
type BuildError struct {
	Code   ocsd.Err
	Index  uint64
	Reason string
}

func (e *BuildError) Error() string {
	return e.libError().Error()
}

// Unwrap exposes the library error object.
func (e *BuildError) Unwrap() error {
	return e.libError()
}

func (e *BuildError) libError() *common.Error {
	msg := e.Reason
	if e.Code != ocsd.ErrTableNotFound && e.Code != ocsd.ErrTableBuild {
		msg = fmt.Sprintf("entry %d: %s", e.Index, e.Reason)
	}
	return common.NewErrorMsg(ocsd.ErrSevError, e.Code, msg)
}

func buildErr(code ocsd.Err, index uint64, format string, args ...any) *BuildError {
	return &BuildError{Code: code, Index: index, Reason: fmt.Sprintf(format, args...)}
}

// Table maps frame indices to format descriptors. It is read only after
// Build and safe for concurrent use.
type Table struct {
	descs   map[uint64]*FormatDescriptor
	indices []uint64
}

// Build validates entries and creates the table.
func Build(entries []Entry) (*Table, error) {
	return build(entries, nil)
}

// BuildSkipping is Build for generated metadata: an entry whose format or
// argument list cannot be resolved is handed to skip and left out of the
// table instead of failing it. Frames using a skipped index then decode as
// unknown. Duplicate indices and an empty result still fail.
func BuildSkipping(entries []Entry, skip func(*BuildError)) (*Table, error) {
	if skip == nil {
		skip = func(*BuildError) {}
	}
	return build(entries, skip)
}

func build(entries []Entry, skip func(*BuildError)) (*Table, error) {
	if len(entries) == 0 {
		return nil, &BuildError{Code: ocsd.ErrTableNotFound, Reason: "no log metadata"}
	}

	t := &Table{descs: make(map[uint64]*FormatDescriptor, len(entries))}
	seen := make(map[uint64]bool, len(entries))
	for _, e := range entries {
		if seen[e.Index] {
			return nil, buildErr(ocsd.ErrDuplicateIndex, e.Index, "duplicate index")
		}
		seen[e.Index] = true
		d, err := newDescriptor(e)
		if err != nil {
			if skip == nil {
				return nil, err
			}
			skip(err)
			continue
		}
		t.descs[e.Index] = d
		t.indices = append(t.indices, e.Index)
	}
	if len(t.descs) == 0 {
		return nil, &BuildError{Code: ocsd.ErrTableNotFound, Reason: "no usable log metadata"}
	}
	sort.Slice(t.indices, func(i, j int) bool { return t.indices[i] < t.indices[j] })
	return t, nil
}

func newDescriptor(e Entry) (*FormatDescriptor, *BuildError) {
	d := &FormatDescriptor{
		Index:    e.Index,
		Level:    e.Level,
		Tag:      e.Tag,
		Format:   e.Format,
		Location: e.Location(),
	}

	if e.Tag == TagStr {
		if len(e.Args) > 0 {
			return nil, buildErr(ocsd.ErrArgMismatch, e.Index, "interned string takes no arguments")
		}
		d.Pieces = []Piece{{Literal: e.Format, Arg: -1}}
		return d, nil
	}

	pieces, holders, err := parseFormat(e.Format)
	if err != nil {
		if errors.Is(err, errUnknownType) {
			return nil, buildErr(ocsd.ErrUnknownArgType, e.Index, "%v", err)
		}
		return nil, buildErr(ocsd.ErrFormatString, e.Index, "%v", err)
	}
	d.Pieces = pieces

	params, err := resolveParams(holders)
	if err != nil {
		if errors.Is(err, errTypeConflict) {
			return nil, buildErr(ocsd.ErrArgMismatch, e.Index, "%v", err)
		}
		return nil, buildErr(ocsd.ErrFormatString, e.Index, "%v", err)
	}

	explicit := make([]ArgType, 0, len(e.Args))
	for _, name := range e.Args {
		typ, err := ParseArgType(name)
		if err != nil {
			return nil, buildErr(ocsd.ErrUnknownArgType, e.Index, "%v", err)
		}
		explicit = append(explicit, typ)
	}

	if len(explicit) == 0 {
		for i, typ := range params {
			if typ == nil {
				return nil, buildErr(ocsd.ErrArgMismatch, e.Index, "argument %d has no type and no argument list was given", i)
			}
			d.Args = append(d.Args, *typ)
		}
		return d, nil
	}

	if len(explicit) != len(params) {
		return nil, buildErr(ocsd.ErrArgMismatch, e.Index, "%d arguments but %d argument types", len(params), len(explicit))
	}
	for i, typ := range params {
		if typ != nil && *typ != explicit[i] {
			return nil, buildErr(ocsd.ErrArgMismatch, e.Index, "argument %d is %s in the format but %s in the list", i, typ, explicit[i])
		}
	}
	d.Args = explicit
	return d, nil
}

// Lookup returns the descriptor for index.
func (t *Table) Lookup(index uint64) (*FormatDescriptor, bool) {
	d, ok := t.descs[index]
	return d, ok
}

// Len returns the number of descriptors.
func (t *Table) Len() int {
	return len(t.descs)
}

// Indices returns every index in ascending order.
func (t *Table) Indices() []uint64 {
	return append([]uint64(nil), t.indices...)
}
