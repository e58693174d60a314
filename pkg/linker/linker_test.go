package linker

import (
	"encoding/binary"
	"testing"

	"eminor/pkg/emitter"
)

func TestLinkResolvesFunctionCall(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(emitter.OpCall))
	fixupPos := uint32(len(buf))
	buf = append(buf, 0xFF, 0xFF, 0xFF, 0xFF)
	buf = append(buf, byte(emitter.OpExit))
	funcOffset := uint32(len(buf))
	buf = append(buf, byte(emitter.OpExit))

	img := &emitter.Image{
		Bytes:       buf,
		FuncOffsets: map[string]uint32{"render": funcOffset},
		FuncOrder:   []string{"render"},
		Relocations: []emitter.Relocation{{FixupPos: fixupPos, Symbol: "render"}},
	}

	symbols, err := Link(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if symbols["render"] != funcOffset {
		t.Fatalf("got %d, want %d", symbols["render"], funcOffset)
	}
	got := binary.LittleEndian.Uint32(img.Bytes[fixupPos : fixupPos+4])
	if got != funcOffset {
		t.Fatalf("fixup not rewritten: got %d, want %d", got, funcOffset)
	}
}

func TestLinkUnresolvedSymbolIsError(t *testing.T) {
	img := &emitter.Image{
		Bytes:       []byte{byte(emitter.OpCall), 0xFF, 0xFF, 0xFF, 0xFF},
		Relocations: []emitter.Relocation{{FixupPos: 1, Symbol: "missing"}},
	}
	if _, err := Link(img); err == nil {
		t.Fatal("expected an unresolved-symbol error")
	}
}

func TestLinkDuplicateFunctionNameIsError(t *testing.T) {
	img := &emitter.Image{
		Bytes:       []byte{},
		FuncOffsets: map[string]uint32{"f": 0},
		FuncOrder:   []string{"f", "f"},
	}
	if _, err := Link(img); err == nil {
		t.Fatal("expected a duplicate-function-name error")
	}
}

func TestLinkNoOrphanSentinelsRemain(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(emitter.OpJmp))
	pos := uint32(len(buf))
	buf = append(buf, 0xFF, 0xFF, 0xFF, 0xFF)

	img := &emitter.Image{
		Bytes:        buf,
		LabelOffsets: map[string]uint32{":here": 0},
		Relocations:  []emitter.Relocation{{FixupPos: pos, Symbol: ":here"}},
	}
	if _, err := Link(img); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	word := binary.LittleEndian.Uint32(img.Bytes[pos : pos+4])
	if word == 0xFFFFFFFF {
		t.Fatal("fixup sentinel was not resolved")
	}
}
