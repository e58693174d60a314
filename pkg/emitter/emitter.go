// Package emitter lowers a parsed program into a single-byte opcode
// stream, a deduplicated constant pool, a function symbol table, and a
// relocation list for forward references that cross label/function
// boundaries. It never executes anything it emits.
package emitter

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"eminor/pkg/ast"
)

// Error is a fatal emitter invariant violation: break/continue outside a
// loop, or a constant pool overflow.
type Error struct {
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s @%d:%d", e.Message, e.Line, e.Column)
}

// Relocation is a deferred fixup: a 4-byte all-ones sentinel was written at
// FixupPos, to be overwritten with Symbol's resolved absolute offset once
// every function and label has been emitted.
type Relocation struct {
	FixupPos uint32
	Symbol   string
}

// Image is the emitter's complete output, ready for the optimizer and
// then the linker.
type Image struct {
	Bytes        []byte
	Rodata       []byte
	Pool         []PoolEntry
	FuncOffsets  map[string]uint32
	FuncOrder    []string
	LabelOffsets map[string]uint32
	Relocations  []Relocation
}

const fixupSentinel = 0xFFFFFFFF

type loopFrame struct {
	startLabel string
	breaks     []uint32 // pending break fixup positions
}

type emitter struct {
	buf          []byte
	pool         *ConstPool
	funcOffsets  map[string]uint32
	funcOrder    []string
	labelOffsets map[string]uint32
	relocs       []Relocation
	loops        []loopFrame
	returns      []uint32 // pending Return-statement fixup positions, current function
	labelSeq     int
}

// Emit lowers prog to a complete, unresolved Image. Relocations are left
// as sentinel bytes for pkg/linker to resolve.
func Emit(prog *ast.Program) (img *Image, err error) {
	e := &emitter{
		pool:         NewConstPool(),
		funcOffsets:  map[string]uint32{},
		labelOffsets: map[string]uint32{},
	}
	defer func() {
		if r := recover(); r != nil {
			if ee, ok := r.(*Error); ok {
				img, err = nil, ee
				return
			}
			panic(r)
		}
	}()

	e.emitFunctionBody("", prog.Entry.Body)

	for _, item := range prog.Items {
		switch d := item.(type) {
		case *ast.FunctionDecl:
			e.funcOffsets[d.Name] = uint32(len(e.buf))
			e.funcOrder = append(e.funcOrder, d.Name)
			e.emitFunctionBody(d.Name, d.Body)
		case *ast.WorkerDecl:
			e.funcOffsets[d.Name] = uint32(len(e.buf))
			e.funcOrder = append(e.funcOrder, d.Name)
			e.emitFunctionBody(d.Name, d.Body)
		}
	}

	return &Image{
		Bytes:        e.buf,
		Rodata:       e.pool.Rodata(),
		Pool:         e.pool.Entries(),
		FuncOffsets:  e.funcOffsets,
		FuncOrder:    e.funcOrder,
		LabelOffsets: e.labelOffsets,
		Relocations:  e.relocs,
	}, nil
}

func (e *emitter) fail(pos ast.Pos, format string, args ...any) {
	panic(&Error{Line: pos.Line, Column: pos.Column, Message: fmt.Sprintf(format, args...)})
}

func (e *emitter) emitFunctionBody(name string, body *ast.Block) {
	e.returns = nil
	e.emitBlock(body)
	epilogue := uint32(len(e.buf))
	for _, pos := range e.returns {
		e.patchAddr(pos, epilogue)
	}
	e.returns = nil
	e.emitByte(byte(OpExit))
}

// --- byte-stream primitives ---

func (e *emitter) emitByte(b byte) { e.buf = append(e.buf, b) }

func (e *emitter) emitAddr32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *emitter) patchAddr(pos uint32, v uint32) {
	binary.LittleEndian.PutUint32(e.buf[pos:pos+4], v)
}

// emitFixup writes the sentinel and returns the position it was written at.
func (e *emitter) emitFixup() uint32 {
	pos := uint32(len(e.buf))
	e.emitAddr32(fixupSentinel)
	return pos
}

// emitReloc writes a sentinel and records a deferred relocation against
// symbol, to be resolved by pkg/linker.
func (e *emitter) emitReloc(symbol string) {
	pos := e.emitFixup()
	e.relocs = append(e.relocs, Relocation{FixupPos: pos, Symbol: symbol})
}

// --- capsule id encoding ---

func isHexTail(s string) bool {
	if len(s) == 0 || len(s) > 2 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func hexNibble(r rune) byte {
	switch {
	case r >= '0' && r <= '9':
		return byte(r - '0')
	case r >= 'a' && r <= 'f':
		return byte(r-'a') + 10
	default:
		return byte(r-'A') + 10
	}
}

// CapsuleID implements spec.md §6's stable encoding: a 1-2 hex-char tail
// parses directly to that byte; anything else hashes via FNV-1a, taking
// the low 8 bits of the 64-bit digest. Seedless and deterministic.
func CapsuleID(name string) byte {
	if isHexTail(name) {
		runes := []rune(name)
		if len(runes) == 1 {
			return hexNibble(runes[0])
		}
		return hexNibble(runes[0])<<4 | hexNibble(runes[1])
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return byte(h.Sum64() & 0xFF)
}

func (e *emitter) emitCapID(name string) {
	e.emitByte(CapsuleID(name))
	e.buf = append(e.buf, 0, 0, 0) // cap-id operand is 4 bytes; id occupies the low byte
}

func (e *emitter) emitKidx(idx uint16) {
	e.emitAddr32(uint32(idx))
}

// --- statements ---

func (e *emitter) emitBlock(b *ast.Block) {
	for _, s := range b.Stmts {
		e.emitStmt(s)
	}
}

func (e *emitter) emitStmt(s ast.Stmt) {
	switch v := s.(type) {
	case *ast.LetDecl:
		if v.Value != nil {
			e.emitExpr(v.Value)
			e.emitByte(byte(OpLoad))
			e.emitCapID(v.Name)
		}

	case *ast.CapsuleOp:
		e.emitCapsuleOp(v)

	case *ast.LoadStmt:
		e.emitExpr(v.Value)
		e.emitByte(byte(OpLoad))
		e.emitCapID(v.Target)

	case *ast.CallStmt:
		if v.HasArg {
			e.emitByte(byte(OpPushCap))
			e.emitCapID(v.Arg)
		}
		e.emitByte(byte(OpCall))
		e.emitReloc(v.Func)

	case *ast.SendStmt:
		e.emitByte(byte(OpSend))
		e.emitCapID(v.Chan)
		e.emitCapID(v.Pkt)

	case *ast.RecvStmt:
		e.emitByte(byte(OpRecv))
		e.emitCapID(v.Chan)
		e.emitCapID(v.Pkt)

	case *ast.SpawnStmt:
		for _, a := range v.Args {
			e.emitByte(byte(OpPushCap))
			e.emitCapID(a)
		}
		e.emitByte(byte(OpSpawn))
		e.emitReloc(v.Func)

	case *ast.JoinStmt:
		e.emitByte(byte(OpJoin))
		e.emitCapID(v.Thread)

	case *ast.StampStmt:
		kidx := e.internExpr(v.Value)
		e.emitByte(byte(OpStamp))
		e.emitCapID(v.Target)
		e.emitKidx(kidx)

	case *ast.ExpireStmt:
		kidx := e.internExpr(v.Duration)
		e.emitByte(byte(OpExpire))
		e.emitCapID(v.Target)
		e.emitKidx(kidx)

	case *ast.SleepStmt:
		kidx := e.internExpr(v.Duration)
		e.emitByte(byte(OpSleep))
		e.emitKidx(kidx)

	case *ast.ErrorStmt:
		codeKidx := e.internExpr(v.Code)
		msgKidx := e.pool.Intern(PoolString, v.Message)
		e.emitByte(byte(OpError))
		e.emitCapID(v.Target)
		e.emitKidx(codeKidx)
		e.emitKidx(msgKidx)

	case *ast.IfStmt:
		e.emitIf(v)

	case *ast.LoopStmt:
		e.emitLoop(v)

	case *ast.BreakStmt:
		if len(e.loops) == 0 {
			e.fail(v.Pos, "'break' outside a loop")
		}
		e.emitByte(byte(OpJmp))
		pos := e.emitFixup()
		top := &e.loops[len(e.loops)-1]
		top.breaks = append(top.breaks, pos)

	case *ast.ContinueStmt:
		if len(e.loops) == 0 {
			e.fail(v.Pos, "'continue' outside a loop")
		}
		top := &e.loops[len(e.loops)-1]
		e.emitByte(byte(OpJmp))
		// The loop's condition-recheck point is already known: jump there
		// directly, no fixup needed.
		e.emitAddrByLabel(top.startLabel)

	case *ast.LabelStmt:
		e.labelOffsets[":"+v.Name] = uint32(len(e.buf))

	case *ast.GotoStmt:
		e.emitByte(byte(OpJmp))
		e.emitReloc(":" + v.Label)

	case *ast.ReturnStmt:
		if v.Value != nil {
			e.emitExpr(v.Value)
		}
		e.emitByte(byte(OpJmp))
		pos := e.emitFixup()
		e.returns = append(e.returns, pos)

	case *ast.PrintStmt:
		for _, a := range v.Args {
			e.emitExpr(a)
		}
		e.emitByte(byte(OpPrint))
		e.emitByte(byte(len(v.Args)))

	default:
		e.fail(s.Position(), "emitter: unhandled statement %T", s)
	}
}

// emitAddrByLabel writes the already-known offset of a local label
// directly, with no relocation needed.
func (e *emitter) emitAddrByLabel(label string) {
	off, ok := e.labelOffsets[label]
	if !ok {
		e.fail(ast.Pos{}, "internal: loop label %q not yet recorded", label)
	}
	e.emitAddr32(off)
}

func (e *emitter) emitCapsuleOp(v *ast.CapsuleOp) {
	switch v.Kind {
	case ast.OpInit:
		e.emitByte(byte(OpInit))
		e.emitCapID(v.Target)
	case ast.OpLease:
		e.emitByte(byte(OpLease))
		e.emitCapID(v.Target)
	case ast.OpSublease:
		e.emitByte(byte(OpSublease))
		e.emitCapID(v.Target)
	case ast.OpRelease:
		e.emitByte(byte(OpRelease))
		e.emitCapID(v.Target)
	case ast.OpCheckExp:
		e.emitByte(byte(OpCheckExp))
		e.emitCapID(v.Target)
	case ast.OpRender:
		e.emitByte(byte(OpRender))
		e.emitCapID(v.Target)
	case ast.OpInput:
		e.emitByte(byte(OpInput))
		e.emitCapID(v.Target)
	case ast.OpOutput:
		e.emitByte(byte(OpOutput))
		e.emitCapID(v.Target)
	case ast.OpExit:
		e.emitByte(byte(OpExit))
	case ast.OpYield:
		e.emitByte(byte(OpYield))
	}
}

func (e *emitter) emitIf(v *ast.IfStmt) {
	e.emitExpr(v.Cond)
	e.emitByte(byte(OpJz))
	jzPos := e.emitFixup()
	e.emitBlock(v.Then)
	if v.Else != nil {
		e.emitByte(byte(OpJmp))
		jmpPos := e.emitFixup()
		e.patchAddr(jzPos, uint32(len(e.buf)))
		e.emitBlock(v.Else)
		e.patchAddr(jmpPos, uint32(len(e.buf)))
	} else {
		e.patchAddr(jzPos, uint32(len(e.buf)))
	}
}

func (e *emitter) emitLoop(v *ast.LoopStmt) {
	e.labelSeq++
	startLabel := fmt.Sprintf("::loop%d:start", e.labelSeq)
	start := uint32(len(e.buf))
	e.labelOffsets[startLabel] = start

	e.emitExpr(v.Cond)
	e.emitByte(byte(OpJz))
	endFixup := e.emitFixup()

	e.loops = append(e.loops, loopFrame{startLabel: startLabel})

	e.emitBlock(v.Body)
	e.emitByte(byte(OpJmp))
	e.emitAddrByLabel(startLabel)

	end := uint32(len(e.buf))
	e.patchAddr(endFixup, end)

	frame := e.loops[len(e.loops)-1]
	e.loops = e.loops[:len(e.loops)-1]
	for _, pos := range frame.breaks {
		e.patchAddr(pos, end)
	}
}

// --- expressions ---

// internExpr interns a literal expression into the constant pool and
// returns its kidx. Only called for Stamp/Expire/Sleep/Error value
// positions; the parser accepts any expression there, so an operand that
// is neither a literal nor a unary minus on a literal is an emit error.
func (e *emitter) internExpr(expr ast.Expr) uint16 {
	switch v := expr.(type) {
	case *ast.Literal:
		return e.pool.Intern(literalPoolKind(v.Kind), v.Value)
	case *ast.UnaryOp:
		if v.Op == ast.UnNeg {
			if lit, ok := v.Rhs.(*ast.Literal); ok {
				return e.pool.Intern(literalPoolKind(lit.Kind), negateLiteral(lit))
			}
		}
	}
	e.fail(expr.Position(), "expected a literal operand")
	return 0
}

func negateLiteral(lit *ast.Literal) any {
	switch lit.Kind {
	case ast.LitInt, ast.LitHex:
		return -lit.Value.(int64)
	case ast.LitDuration:
		// Durations are unsigned ns; a negative duration literal is
		// represented as the same magnitude, flagged separately by
		// pkg/starcode's SC020/SC021 checks rather than folded here.
		return lit.Value.(uint64)
	default:
		return lit.Value
	}
}

func literalPoolKind(k ast.LiteralKind) PoolKind {
	switch k {
	case ast.LitInt:
		return PoolInt
	case ast.LitHex:
		return PoolHex
	case ast.LitDuration:
		return PoolDuration
	case ast.LitString:
		return PoolString
	case ast.LitBool:
		return PoolBool
	default:
		return PoolInt
	}
}

func (e *emitter) emitExpr(expr ast.Expr) {
	switch v := expr.(type) {
	case *ast.Literal:
		kidx := e.pool.Intern(literalPoolKind(v.Kind), v.Value)
		e.emitByte(byte(OpPushK))
		e.emitKidx(kidx)

	case *ast.Identifier:
		e.emitByte(byte(OpPushCap))
		e.emitCapID(v.Name)

	case *ast.UnaryOp:
		e.emitExpr(v.Rhs)
		e.emitByte(byte(OpUn))
		e.emitByte(byte(unaryOpByte(v.Op)))

	case *ast.BinaryOp:
		e.emitBinary(v)

	case *ast.CallExpr:
		for _, a := range v.Args {
			e.emitExpr(a)
		}
		e.emitByte(byte(OpCall))
		e.emitReloc(v.Name)

	default:
		e.fail(expr.Position(), "emitter: unhandled expression %T", expr)
	}
}

func unaryOpByte(k ast.UnaryKind) UnOp {
	switch k {
	case ast.UnNot:
		return UnNot
	case ast.UnBitNot:
		return UnBitNot
	default:
		return UnNeg
	}
}

func binaryOpByte(k ast.BinaryKind) BinOp {
	switch k {
	case ast.BinOr:
		return BinOr
	case ast.BinAnd:
		return BinAnd
	case ast.BinEq:
		return BinEq
	case ast.BinNe:
		return BinNe
	case ast.BinLt:
		return BinLt
	case ast.BinGt:
		return BinGt
	case ast.BinLe:
		return BinLe
	case ast.BinGe:
		return BinGe
	case ast.BinAdd:
		return BinAdd
	case ast.BinSub:
		return BinSub
	case ast.BinMul:
		return BinMul
	case ast.BinDiv:
		return BinDiv
	default:
		return BinMod
	}
}

// emitBinary lowers && and || with short-circuit JZ/JNZ, patched to the
// instruction immediately following the operator; all other binary
// operators lower as plain post-order stack operations.
func (e *emitter) emitBinary(v *ast.BinaryOp) {
	if v.Op == ast.BinAnd || v.Op == ast.BinOr {
		e.emitExpr(v.Lhs)
		var branchOp Op
		if v.Op == ast.BinAnd {
			branchOp = OpJz
		} else {
			branchOp = OpJnz
		}
		e.emitByte(byte(branchOp))
		fixup := e.emitFixup()
		e.emitExpr(v.Rhs)
		e.patchAddr(fixup, uint32(len(e.buf)))
		return
	}
	e.emitExpr(v.Lhs)
	e.emitExpr(v.Rhs)
	e.emitByte(byte(OpBin))
	e.emitByte(byte(binaryOpByte(v.Op)))
}
