package disasm

import (
	"strings"
	"testing"

	"eminor/pkg/emitter"
)

func TestDisassembleBasicSequence(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(emitter.OpInit), 0xA0, 0, 0, 0)
	buf = append(buf, byte(emitter.OpExit))

	out := Disassemble(buf, nil)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "000000: INIT 160") {
		t.Fatalf("got %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "000005: EXIT") {
		t.Fatalf("got %q", lines[1])
	}
}

func TestDisassembleAnnotatesKnownSymbol(t *testing.T) {
	var buf []byte
	buf = append(buf, byte(emitter.OpCall), 5, 0, 0, 0)
	buf = append(buf, byte(emitter.OpExit))

	out := Disassemble(buf, map[string]uint32{"render": 5})
	if !strings.Contains(out, "$render") {
		t.Fatalf("expected a '$render' annotation, got %q", out)
	}
}
