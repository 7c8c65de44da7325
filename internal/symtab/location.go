package symtab

import (
	"debug/dwarf"
	"encoding/binary"
	"fmt"
	"strings"
)

// Location is the place in the firmware source a log statement was written.
type Location struct {
	File   string
	Line   uint64
	Module string
}

// String renders "module @ file:line", leaving out the module when unknown.
func (l Location) String() string {
	file := l.File
	if file == "" {
		file = "<unknown>"
	}
	if l.Module == "" {
		return fmt.Sprintf("%s:%d", file, l.Line)
	}
	return fmt.Sprintf("%s @ %s:%d", l.Module, file, l.Line)
}

const opAddr = 0x03 // DW_OP_addr

// readLocations maps the address of every statically allocated variable in
// the debug info to its declaration. Log statement symbols are such
// variables, so their .defmt addresses find their source position here.
// The module is the path of enclosing namespaces joined with "::".
func readLocations(d *dwarf.Data, order binary.ByteOrder) (map[uint64]Location, error) {
	locs := make(map[uint64]Location)
	r := d.Reader()

	var (
		files []*dwarf.LineFile
		scope []string
	)
	for {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			return locs, nil
		}

		switch e.Tag {
		case 0:
			if len(scope) > 0 {
				scope = scope[:len(scope)-1]
			}
			continue

		case dwarf.TagCompileUnit:
			scope = scope[:0]
			files = nil
			lr, err := d.LineReader(e)
			if err != nil {
				return nil, err
			}
			if lr != nil {
				files = lr.Files()
			}

		case dwarf.TagVariable:
			if addr, ok := staticAddr(e, r.AddressSize(), order); ok {
				locs[addr] = declLocation(e, files, scope)
			}
		}

		if e.Children {
			name := ""
			if e.Tag == dwarf.TagNamespace {
				name, _ = e.Val(dwarf.AttrName).(string)
			}
			scope = append(scope, name)
		}
	}
}

// staticAddr returns the address of a variable whose location is a single
// DW_OP_addr operation.
func staticAddr(e *dwarf.Entry, addrSize int, order binary.ByteOrder) (uint64, bool) {
	expr, ok := e.Val(dwarf.AttrLocation).([]byte)
	if !ok || len(expr) != 1+addrSize || expr[0] != opAddr {
		return 0, false
	}
	switch addrSize {
	case 4:
		return uint64(order.Uint32(expr[1:])), true
	case 8:
		return order.Uint64(expr[1:]), true
	}
	return 0, false
}

func declLocation(e *dwarf.Entry, files []*dwarf.LineFile, scope []string) Location {
	var loc Location
	if idx, ok := e.Val(dwarf.AttrDeclFile).(int64); ok && idx >= 0 && int(idx) < len(files) && files[idx] != nil {
		loc.File = files[idx].Name
	}
	if line, ok := e.Val(dwarf.AttrDeclLine).(int64); ok && line > 0 {
		loc.Line = uint64(line)
	}
	var path []string
	for _, name := range scope {
		if name != "" {
			path = append(path, name)
		}
	}
	loc.Module = strings.Join(path, "::")
	return loc
}
