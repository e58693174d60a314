package emitter

// Op is a single byte opcode. Values are a direct transcription of
// spec.md §4.4's table; see DESIGN.md for the handful of extension
// opcodes (CheckExp, Print) the table leaves unassigned.
type Op byte

const (
	OpInit     Op = 0x01
	OpLease    Op = 0x02
	OpSublease Op = 0x03
	OpRelease  Op = 0x04
	OpLoad     Op = 0x05
	OpCall     Op = 0x06
	OpExit     Op = 0x07
	OpRender   Op = 0x08
	OpInput    Op = 0x09
	OpOutput   Op = 0x0A
	OpSend     Op = 0x0B
	OpRecv     Op = 0x0C
	OpSpawn    Op = 0x0D
	OpJoin     Op = 0x0E
	OpStamp    Op = 0x0F
	OpExpire   Op = 0x10
	OpSleep    Op = 0x11
	OpYield    Op = 0x12
	OpError    Op = 0x13
	OpCheckExp Op = 0x14 // extension: see DESIGN.md decision 1
	// 0x15 reserved, intentionally unused (DESIGN.md decision 4)
	OpPrint   Op = 0x16 // extension: see DESIGN.md decision 3
	OpPushK   Op = 0x20
	OpPushCap Op = 0x21
	OpUn      Op = 0x22
	OpBin     Op = 0x23
	OpJz      Op = 0x30
	OpJnz     Op = 0x31
	OpJmp     Op = 0x32
	OpNop     Op = 0x33 // extension: see DESIGN.md decision 12, pkg/optimizer padding
	OpEnd     Op = 0xFF
)

// BinOp is the one-byte operator code trailing a BIN instruction.
type BinOp byte

const (
	BinOr  BinOp = 1
	BinAnd BinOp = 2
	BinEq  BinOp = 3
	BinNe  BinOp = 4
	BinLt  BinOp = 5
	BinGt  BinOp = 6
	BinLe  BinOp = 7
	BinGe  BinOp = 8
	BinAdd BinOp = 9
	BinSub BinOp = 10
	BinMul BinOp = 11
	BinDiv BinOp = 12
	BinMod BinOp = 13
)

// UnOp is the one-byte operator code trailing a UN instruction.
type UnOp byte

const (
	UnNot    UnOp = 1
	UnNeg    UnOp = 2
	UnBitNot UnOp = 3
)

// OperandKind describes one operand slot for disassembly/arity purposes.
type OperandKind int

const (
	OperandCapID  OperandKind = iota // 4-byte capsule id
	OperandAddr                     // 4-byte absolute address (relocatable)
	OperandKidx                     // 4-byte constant pool index
	OperandOpByte                   // 1-byte sub-operator code
	OperandArgc                     // 1-byte argument count
)

// OpInfo names a mnemonic and its operand shape. Shared by the emitter
// (self-documentation) and the disassembler (decoding).
type OpInfo struct {
	Mnemonic string
	Operands []OperandKind
}

var OpTable = map[Op]OpInfo{
	OpInit:     {"INIT", []OperandKind{OperandCapID}},
	OpLease:    {"LEASE", []OperandKind{OperandCapID}},
	OpSublease: {"SUBLEASE", []OperandKind{OperandCapID}},
	OpRelease:  {"RELEASE", []OperandKind{OperandCapID}},
	OpLoad:     {"LOAD", []OperandKind{OperandCapID}},
	OpCall:     {"CALL", []OperandKind{OperandAddr}},
	OpExit:     {"EXIT", nil},
	OpRender:   {"RENDER", []OperandKind{OperandCapID}},
	OpInput:    {"INPUT", []OperandKind{OperandCapID}},
	OpOutput:   {"OUTPUT", []OperandKind{OperandCapID}},
	OpSend:     {"SEND", []OperandKind{OperandCapID, OperandCapID}},
	OpRecv:     {"RECV", []OperandKind{OperandCapID, OperandCapID}},
	OpSpawn:    {"SPAWN", []OperandKind{OperandAddr}},
	OpJoin:     {"JOIN", []OperandKind{OperandCapID}},
	OpStamp:    {"STAMP", []OperandKind{OperandCapID, OperandKidx}},
	OpExpire:   {"EXPIRE", []OperandKind{OperandCapID, OperandKidx}},
	OpSleep:    {"SLEEP", []OperandKind{OperandKidx}},
	OpYield:    {"YIELD", nil},
	OpError:    {"ERROR", []OperandKind{OperandCapID, OperandKidx, OperandKidx}},
	OpCheckExp: {"CHECKEXP", []OperandKind{OperandCapID}},
	OpPrint:    {"PRINT", []OperandKind{OperandArgc}},
	OpPushK:    {"PUSHK", []OperandKind{OperandKidx}},
	OpPushCap:  {"PUSHCAP", []OperandKind{OperandCapID}},
	OpUn:       {"UN", []OperandKind{OperandOpByte}},
	OpBin:      {"BIN", []OperandKind{OperandOpByte}},
	OpJz:       {"JZ", []OperandKind{OperandAddr}},
	OpJnz:      {"JNZ", []OperandKind{OperandAddr}},
	OpJmp:      {"JMP", []OperandKind{OperandAddr}},
	OpNop:      {"NOP", nil},
	OpEnd:      {"END", nil},
}

// BinMnemonic maps a BIN sub-operator byte to its disassembly mnemonic.
var BinMnemonic = map[BinOp]string{
	BinOr: "OR", BinAnd: "AND", BinEq: "EQ", BinNe: "NE",
	BinLt: "LT", BinGt: "GT", BinLe: "LE", BinGe: "GE",
	BinAdd: "ADD", BinSub: "SUB", BinMul: "MUL", BinDiv: "DIV", BinMod: "MOD",
}

// UnMnemonic maps a UN sub-operator byte to its disassembly mnemonic.
var UnMnemonic = map[UnOp]string{
	UnNot: "NOT", UnNeg: "NEG", UnBitNot: "BITNOT",
}
