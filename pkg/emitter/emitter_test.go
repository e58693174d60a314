package emitter

import (
	"testing"

	"eminor/pkg/lexer"
	"eminor/pkg/parser"
)

func mustEmit(t *testing.T, src string) *Image {
	t.Helper()
	toks, err := lexer.Lex(src)
	if err != nil {
		t.Fatalf("lex error: %v", err)
	}
	prog, err := parser.Parse(toks, src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	img, err := Emit(prog)
	if err != nil {
		t.Fatalf("emit error: %v", err)
	}
	return img
}

func TestCapsuleIDHexTail(t *testing.T) {
	if got := CapsuleID("A0"); got != 0xA0 {
		t.Fatalf("got %#x, want 0xA0", got)
	}
	if got := CapsuleID("5"); got != 0x05 {
		t.Fatalf("got %#x, want 0x05", got)
	}
}

func TestCapsuleIDHashIsDeterministic(t *testing.T) {
	a := CapsuleID("render")
	b := CapsuleID("render")
	if a != b {
		t.Fatalf("hash not deterministic: %#x vs %#x", a, b)
	}
}

func TestConstPoolDedupByKindAndValue(t *testing.T) {
	p := NewConstPool()
	i1 := p.Intern(PoolInt, int64(42))
	i2 := p.Intern(PoolInt, int64(42))
	if i1 != i2 {
		t.Fatalf("expected same kidx for repeated INT value, got %d vs %d", i1, i2)
	}
	hexIdx := p.Intern(PoolHex, int64(42))
	if hexIdx == i1 {
		t.Fatalf("INT and HEX with the same numeric value must not share a slot")
	}
}

func TestConstPoolDedupDurationAcrossUnits(t *testing.T) {
	p := NewConstPool()
	a := p.Intern(PoolDuration, uint64(300_000_000_000)) // 5m in ns
	b := p.Intern(PoolDuration, uint64(300_000_000_000))  // "5m" and "300000000000ns" both reduce here
	if a != b {
		t.Fatalf("duration values with equal ns count must dedupe to one slot, got %d vs %d", a, b)
	}
}

func TestConstPoolStringAppendsRodataWithNUL(t *testing.T) {
	p := NewConstPool()
	p.Intern(PoolString, "abc")
	want := []byte("abc\x00")
	if string(p.Rodata()) != string(want) {
		t.Fatalf("got rodata %q, want %q", p.Rodata(), want)
	}
}

func TestEmitSimpleProgramProducesNoOrphanFixups(t *testing.T) {
	img := mustEmit(t, `@main {
		#init $A0
		#load $A0, 0xFF
		#call $render, $A0
		#exit
	}
	function $render(x: capsule<u8>) { #exit }`)

	if len(img.Relocations) == 0 {
		t.Fatal("expected at least one relocation for the forward #call to $render")
	}
	if _, ok := img.FuncOffsets["render"]; !ok {
		t.Fatal("expected 'render' in the function symbol table")
	}
	for _, r := range img.Relocations {
		_, isFunc := img.FuncOffsets[r.Symbol]
		_, isLabel := img.LabelOffsets[r.Symbol]
		if !isFunc && !isLabel {
			t.Fatalf("relocation at %d targets unknown symbol %q", r.FixupPos, r.Symbol)
		}
	}
}

func TestBreakOutsideLoopIsEmitError(t *testing.T) {
	toks, _ := lexer.Lex(`@main { #break #exit }`)
	prog, err := parser.Parse(toks, "")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := Emit(prog); err == nil {
		t.Fatal("expected an emit error for 'break' outside a loop")
	}
}

func TestLoopBreakContinueResolveWithinEmitter(t *testing.T) {
	img := mustEmit(t, `@main {
		#init $A0
		#loop (true) {
			#break
			#continue
		}
		#exit
	}`)
	// Break/continue are resolved entirely within the emitter (no
	// relocation entries); the only relocations here would come from a
	// #call/#goto, of which there are none.
	if len(img.Relocations) != 0 {
		t.Fatalf("expected no relocations from break/continue alone, got %d", len(img.Relocations))
	}
}
