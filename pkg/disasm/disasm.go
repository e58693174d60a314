// Package disasm turns a linked byte image back into a textual mnemonic
// listing, reversing pkg/emitter's opcode table.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"eminor/pkg/emitter"
)

// Disassemble produces one "OFFSET: MNEMONIC operands" line per
// instruction. When an address operand matches a known function or label
// offset in symbols, a trailing "; $name" comment is appended.
func Disassemble(img []byte, symbols map[string]uint32) string {
	byOffset := invertSymbols(symbols)

	var sb strings.Builder
	i := 0
	for i < len(img) {
		op := emitter.Op(img[i])
		info, ok := emitter.OpTable[op]
		if !ok {
			fmt.Fprintf(&sb, "%06X: ??? (0x%02X)\n", i, img[i])
			i++
			continue
		}
		fmt.Fprintf(&sb, "%06X: %s", i, info.Mnemonic)
		pos := i + 1
		var symbolComment string
		for _, operand := range info.Operands {
			switch operand {
			case emitter.OperandOpByte:
				sb.WriteByte(' ')
				sb.WriteString(operandByteName(op, img[pos]))
				pos++
			case emitter.OperandArgc:
				fmt.Fprintf(&sb, " %d", img[pos])
				pos++
			case emitter.OperandCapID:
				id := img[pos]
				fmt.Fprintf(&sb, " %d", id)
				pos += 4
			case emitter.OperandAddr:
				addr := binary.LittleEndian.Uint32(img[pos : pos+4])
				fmt.Fprintf(&sb, " %06d", addr)
				if name, ok := byOffset[addr]; ok {
					symbolComment = name
				}
				pos += 4
			case emitter.OperandKidx:
				kidx := binary.LittleEndian.Uint32(img[pos : pos+4])
				fmt.Fprintf(&sb, " %d", kidx)
				pos += 4
			}
		}
		if symbolComment != "" {
			fmt.Fprintf(&sb, " ; $%s", strings.TrimPrefix(symbolComment, ":"))
		}
		sb.WriteByte('\n')
		i = pos
	}
	return sb.String()
}

func invertSymbols(symbols map[string]uint32) map[uint32]string {
	out := make(map[uint32]string, len(symbols))
	for name, off := range symbols {
		// Prefer function names over label names when both map to the
		// same offset (shouldn't normally happen, but keep it stable).
		if existing, ok := out[off]; !ok || strings.HasPrefix(existing, ":") {
			out[off] = name
		}
	}
	return out
}

func operandByteName(op emitter.Op, b byte) string {
	if op == emitter.OpUn {
		if name, ok := emitter.UnMnemonic[emitter.UnOp(b)]; ok {
			return name
		}
	}
	if op == emitter.OpBin {
		if name, ok := emitter.BinMnemonic[emitter.BinOp(b)]; ok {
			return name
		}
	}
	return fmt.Sprintf("%d", b)
}
