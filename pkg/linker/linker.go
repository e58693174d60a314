// Package linker resolves the relocation list an emitted (and optionally
// optimized) image carries, rewriting each fixup sentinel in place with
// its target's absolute byte offset.
package linker

import (
	"encoding/binary"
	"fmt"

	"eminor/pkg/emitter"
)

// Error is a fatal link failure: an unresolved symbol or a duplicate
// function name.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Link merges the function symbol table into the label table and
// resolves every relocation by overwriting its fixup sentinel with the
// resolved absolute offset. Mutates img.Bytes in place.
func Link(img *emitter.Image) (map[string]uint32, error) {
	symbols := make(map[string]uint32, len(img.FuncOffsets)+len(img.LabelOffsets))

	seen := make(map[string]bool, len(img.FuncOrder))
	for _, name := range img.FuncOrder {
		if seen[name] {
			return nil, &Error{Message: fmt.Sprintf("duplicate function name %q", name)}
		}
		seen[name] = true
		symbols[name] = img.FuncOffsets[name]
	}
	for label, off := range img.LabelOffsets {
		symbols[label] = off
	}

	for _, r := range img.Relocations {
		off, ok := symbols[r.Symbol]
		if !ok {
			return nil, &Error{Message: fmt.Sprintf("unresolved symbol %q at fixup offset %d", r.Symbol, r.FixupPos)}
		}
		binary.LittleEndian.PutUint32(img.Bytes[r.FixupPos:r.FixupPos+4], off)
	}

	return symbols, nil
}
