package optimizer

import (
	"encoding/binary"
	"testing"

	"eminor/pkg/emitter"
)

func buildPushPushBin(pool *[]emitter.PoolEntry, a, b int64, op emitter.BinOp) []byte {
	var buf []byte
	ia := uint32(len(*pool))
	*pool = append(*pool, emitter.PoolEntry{Kind: emitter.PoolInt, Value: a, RodataOffset: -1})
	ib := uint32(len(*pool))
	*pool = append(*pool, emitter.PoolEntry{Kind: emitter.PoolInt, Value: b, RodataOffset: -1})

	buf = append(buf, byte(emitter.OpPushK))
	buf = append(buf, le32(ia)...)
	buf = append(buf, byte(emitter.OpPushK))
	buf = append(buf, le32(ib)...)
	buf = append(buf, byte(emitter.OpBin), byte(op))
	return buf
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func TestPeepholeFoldsAdd(t *testing.T) {
	var pool []emitter.PoolEntry
	buf := buildPushPushBin(&pool, 2, 3, emitter.BinAdd)
	img := &emitter.Image{Bytes: buf, Pool: pool}
	out := Optimize(img)

	// Option (a): the window is padded back out to its original length,
	// never shrunk, so no relocation ever needs its FixupPos adjusted.
	if len(out.Bytes) != len(buf) {
		t.Fatalf("expected the window padded to its original length (%d bytes), got %d: % X", len(buf), len(out.Bytes), out.Bytes)
	}
	if emitter.Op(out.Bytes[0]) != emitter.OpPushK {
		t.Fatalf("expected PUSHK, got opcode %#x", out.Bytes[0])
	}
	kidx := binary.LittleEndian.Uint32(out.Bytes[1:5])
	if int(kidx) >= len(out.Pool) {
		t.Fatalf("folded kidx %d out of range", kidx)
	}
	got := out.Pool[kidx].Value.(int64)
	if got != 5 {
		t.Fatalf("got folded value %d, want 5", got)
	}
	for _, b := range out.Bytes[5:] {
		if emitter.Op(b) != emitter.OpNop {
			t.Fatalf("expected NOP padding after the folded PUSHK, got byte %#x", b)
		}
	}
}

func TestPeepholeFoldPreservesDownstreamFixupPositions(t *testing.T) {
	var pool []emitter.PoolEntry
	buf := buildPushPushBin(&pool, 2, 3, emitter.BinAdd)
	// A CALL sits right after the foldable window; its fixup position must
	// not move even though the window folds down to a single PUSHK.
	fixupPos := uint32(len(buf) + 1)
	buf = append(buf, byte(emitter.OpCall))
	buf = append(buf, 0xFF, 0xFF, 0xFF, 0xFF)

	img := &emitter.Image{
		Bytes:       buf,
		Pool:        pool,
		Relocations: []emitter.Relocation{{FixupPos: fixupPos, Symbol: "render"}},
	}
	out := Optimize(img)

	if len(out.Bytes) != len(buf) {
		t.Fatalf("expected the overall buffer length unchanged, got %d instead of %d", len(out.Bytes), len(buf))
	}
	if out.Relocations[0].FixupPos != fixupPos {
		t.Fatalf("fixup position moved: got %d, want %d (unchanged, per spec.md §4.5 option (a))", out.Relocations[0].FixupPos, fixupPos)
	}
	if emitter.Op(out.Bytes[fixupPos-1]) != emitter.OpCall {
		t.Fatalf("CALL opcode is no longer at the byte immediately before the recorded fixup position")
	}
}

func TestPeepholeSkipsWindowOverlappingFixup(t *testing.T) {
	var pool []emitter.PoolEntry
	buf := buildPushPushBin(&pool, 2, 3, emitter.BinAdd)
	// Fixup sits inside the window (at the second PUSHK's operand).
	img := &emitter.Image{
		Bytes:       buf,
		Pool:        pool,
		Relocations: []emitter.Relocation{{FixupPos: 6, Symbol: "whatever"}},
	}
	out := Optimize(img)
	if len(out.Bytes) != len(buf) {
		t.Fatalf("expected untouched stream (fixup overlap), got %d bytes instead of %d", len(out.Bytes), len(buf))
	}
}

func TestPeepholeLeavesNonArithmeticBinAlone(t *testing.T) {
	var pool []emitter.PoolEntry
	buf := buildPushPushBin(&pool, 2, 3, emitter.BinEq)
	img := &emitter.Image{Bytes: buf, Pool: pool}
	out := Optimize(img)
	if len(out.Bytes) != len(buf) {
		t.Fatalf("expected EQ to be left alone, got %d bytes instead of %d", len(out.Bytes), len(buf))
	}
}

func TestPeepholeWraparound(t *testing.T) {
	var pool []emitter.PoolEntry
	// 0xFFFFFFFF + 2 wraps to 1 (mod 2^32).
	ia := uint32(len(pool))
	pool = append(pool, emitter.PoolEntry{Kind: emitter.PoolInt, Value: int64(0xFFFFFFFF), RodataOffset: -1})
	ib := uint32(len(pool))
	pool = append(pool, emitter.PoolEntry{Kind: emitter.PoolInt, Value: int64(2), RodataOffset: -1})
	var buf []byte
	buf = append(buf, byte(emitter.OpPushK))
	buf = append(buf, le32(ia)...)
	buf = append(buf, byte(emitter.OpPushK))
	buf = append(buf, le32(ib)...)
	buf = append(buf, byte(emitter.OpBin), byte(emitter.BinAdd))

	img := &emitter.Image{Bytes: buf, Pool: pool}
	out := Optimize(img)
	kidx := binary.LittleEndian.Uint32(out.Bytes[1:5])
	got := out.Pool[kidx].Value.(int64)
	if got != 1 {
		t.Fatalf("expected wraparound to 1, got %d", got)
	}
}
