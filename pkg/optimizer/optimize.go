// Package optimizer implements the required peephole rewrite over a
// finished opcode stream, pre-link: folding two adjacent constant pushes
// and an ADD, SUB or MUL BIN into a single push of the computed constant.
// DIV and MOD windows are not folded.
package optimizer

import (
	"encoding/binary"

	"eminor/pkg/emitter"
)

// instrLen returns the total byte length (opcode + operands) of the
// instruction starting at pos, or 0 if pos is out of range.
func instrLen(buf []byte, pos int) int {
	if pos >= len(buf) {
		return 0
	}
	op := emitter.Op(buf[pos])
	info, ok := emitter.OpTable[op]
	if !ok {
		return 1
	}
	n := 1
	for _, operand := range info.Operands {
		switch operand {
		case emitter.OperandOpByte, emitter.OperandArgc:
			n++
		default:
			n += 4
		}
	}
	return n
}

func fixupOverlapsWindow(fixups map[int]bool, start, end int) bool {
	for pos := range fixups {
		if pos >= start && pos < end {
			return true
		}
	}
	return false
}

func foldable(op emitter.BinOp) bool {
	return op == emitter.BinAdd || op == emitter.BinSub || op == emitter.BinMul
}

func fold(op emitter.BinOp, a, b uint32) uint32 {
	switch op {
	case emitter.BinAdd:
		return a + b // wraps mod 2^32, matching spec.md §8
	case emitter.BinSub:
		return a - b
	default:
		return a * b
	}
}

// Optimize runs the peephole pass over img.Bytes in place and returns the
// image. A folded window is padded out with NOPs to its original length so
// the buffer never shrinks and no relocation fixup position ever moves: no
// window overlapping a fixup position is folded at all, and every fold that
// does happen leaves everything after it exactly where it was (spec.md
// §4.5's mandated option (a): "leave relocations untouched").
func Optimize(img *emitter.Image) *emitter.Image {
	fixups := make(map[int]bool, len(img.Relocations))
	for _, r := range img.Relocations {
		fixups[int(r.FixupPos)] = true
	}

	buf := img.Bytes
	var out []byte

	i := 0
	for i < len(buf) {
		if emitter.Op(buf[i]) == emitter.OpPushK {
			l1 := instrLen(buf, i)
			j := i + l1
			if j < len(buf) && emitter.Op(buf[j]) == emitter.OpPushK {
				l2 := instrLen(buf, j)
				k := j + l2
				if k < len(buf) && emitter.Op(buf[k]) == emitter.OpBin {
					l3 := instrLen(buf, k)
					end := k + l3
					binOp := emitter.BinOp(buf[k+1])
					if foldable(binOp) && !fixupOverlapsWindow(fixups, i, end) {
						aIdx := binary.LittleEndian.Uint32(buf[i+1 : i+5])
						bIdx := binary.LittleEndian.Uint32(buf[j+1 : j+5])
						if int(aIdx) < len(img.Pool) && int(bIdx) < len(img.Pool) {
							aVal, aok := asUint32(img.Pool[aIdx].Value)
							bVal, bok := asUint32(img.Pool[bIdx].Value)
							if aok && bok {
								folded := fold(binOp, aVal, bVal)
								kidx := internFolded(img, folded)
								out = append(out, byte(emitter.OpPushK))
								var kb [4]byte
								binary.LittleEndian.PutUint32(kb[:], kidx)
								out = append(out, kb[:]...)
								for pad := end - i - 5; pad > 0; pad-- {
									out = append(out, byte(emitter.OpNop))
								}
								i = end
								continue
							}
						}
					}
				}
			}
		}
		out = append(out, buf[i])
		i++
	}

	img.Bytes = out
	return img
}

func asUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case int64:
		return uint32(n), true
	case uint64:
		return uint32(n), true
	default:
		return 0, false
	}
}

// internFolded appends a new constant pool entry for a folded value and
// returns its index; folded results reuse PoolInt semantics regardless of
// the operands' original kinds, since arithmetic on hex/int literals
// produces a plain integer.
func internFolded(img *emitter.Image, value uint32) uint32 {
	idx := len(img.Pool)
	img.Pool = append(img.Pool, emitter.PoolEntry{Kind: emitter.PoolInt, Value: int64(value), RodataOffset: -1})
	return uint32(idx)
}
