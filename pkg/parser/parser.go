// Package parser implements a recursive-descent parser with Pratt-style
// expression precedence, turning a token stream into a *ast.Program.
//
// Grammar (informal):
//
//	program     = entryBlock { topDecl }
//	entryBlock  = ("@main" | "@entry_point") block
//	topDecl     = functionDecl | workerDecl | letDecl
//	            | "@module" STRING
//	            | "@import" STRING ["as" DOLLAR_IDENT]
//	            | "@export" ["function"] DOLLAR_IDENT
//	block       = "{" { statement } "}"
//	statement   = shortcode-directive | long-form-sequence | label | letDecl
//	expr        = Pratt-climbing binary/unary/primary, see parseExpr
//
// Shortcode and long-form statement forms that name the same operation
// build the identical AST node; see the statement dispatch functions below.
package parser

import (
	"fmt"
	"strings"

	"eminor/pkg/ast"
	"eminor/pkg/token"
)

// Error is a fatal parse failure: unexpected token, missing terminator, or
// malformed declaration. The parser never attempts recovery.
type Error struct {
	Line    int
	Column  int
	Message string
	Snippet string
}

func (e *Error) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("%s @%d:%d", e.Message, e.Line, e.Column)
	}
	return fmt.Sprintf("%s @%d:%d\n  %s", e.Message, e.Line, e.Column, e.Snippet)
}

type parser struct {
	toks  []token.Token
	pos   int
	lines []string
}

// Parse consumes a full token stream (as produced by pkg/lexer, terminated
// by an EOF token) and returns the parsed program, or the first fatal
// *Error encountered.
func Parse(toks []token.Token, src string) (prog *ast.Program, err error) {
	p := &parser{toks: toks, lines: strings.Split(src, "\n")}
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(*Error); ok {
				prog, err = nil, pe
				return
			}
			panic(r)
		}
	}()
	return p.parseProgram(), nil
}

func (p *parser) cur() token.Token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos]
}

func (p *parser) peekKind() token.Kind { return p.cur().Kind }

func (p *parser) advance() token.Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) fmtError(tok token.Token, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	var snippet string
	if tok.Line-1 >= 0 && tok.Line-1 < len(p.lines) {
		snippet = p.lines[tok.Line-1]
	}
	return &Error{Line: tok.Line, Column: tok.Column, Message: msg, Snippet: snippet}
}

func (p *parser) fail(format string, args ...any) {
	panic(p.fmtError(p.cur(), format, args...))
}

func (p *parser) expect(k token.Kind) token.Token {
	if p.peekKind() != k {
		p.fail("expected %s, got %s %q", k, p.peekKind(), p.cur().Lexeme)
	}
	return p.advance()
}

func (p *parser) expectDollar() string {
	t := p.expect(token.DOLLAR_IDENT)
	return t.Value.(string)
}

func (p *parser) expectIdent() string {
	t := p.expect(token.IDENT)
	return t.Value.(string)
}

func (p *parser) expectString() string {
	t := p.expect(token.STRING)
	return t.Value.(string)
}

// --- Program / top level ---

func (p *parser) parseProgram() *ast.Program {
	entryTok := p.cur()
	entry := p.parseEntryBlock()
	prog := &ast.Program{Pos: ast.Pos{Line: entryTok.Line, Column: entryTok.Column}, Entry: entry}
	for p.peekKind() != token.EOF {
		prog.Items = append(prog.Items, p.parseTopDecl())
	}
	return prog
}

func (p *parser) parseEntryBlock() *ast.EntryBlock {
	tok := p.cur()
	var kind ast.EntryKind
	switch tok.Kind {
	case token.AT_MAIN:
		kind = ast.EntryMain
	case token.AT_ENTRY_POINT:
		kind = ast.EntryPoint
	default:
		p.fail("expected '@main' or '@entry_point', got %s %q", tok.Kind, tok.Lexeme)
	}
	p.advance()
	body := p.parseBlock()
	return &ast.EntryBlock{Pos: ast.Pos{Line: tok.Line, Column: tok.Column}, Kind: kind, Body: body}
}

func (p *parser) parseTopDecl() ast.Decl {
	tok := p.cur()
	switch tok.Kind {
	case token.KW_FUNCTION:
		return p.parseFunctionDecl()
	case token.KW_WORKER:
		return p.parseWorkerDecl()
	case token.KW_LET:
		return p.parseLetDecl()
	case token.AT_MODULE:
		p.advance()
		path := p.expectString()
		return &ast.ModuleDecl{Pos: posOf(tok), Path: path}
	case token.AT_IMPORT:
		p.advance()
		path := p.expectString()
		alias := ""
		if p.peekKind() == token.KW_AS {
			p.advance()
			alias = p.expectDollar()
		}
		return &ast.ImportDecl{Pos: posOf(tok), Path: path, Alias: alias}
	case token.AT_EXPORT:
		p.advance()
		if p.peekKind() == token.KW_FUNCTION {
			p.advance()
		}
		sym := p.expectDollar()
		return &ast.ExportDecl{Pos: posOf(tok), Symbol: sym}
	default:
		p.fail("expected a declaration, got %s %q", tok.Kind, tok.Lexeme)
		return nil
	}
}

func posOf(t token.Token) ast.Pos { return ast.Pos{Line: t.Line, Column: t.Column} }

func (p *parser) parseParams() []*ast.Param {
	p.expect(token.LPAREN)
	var params []*ast.Param
	for p.peekKind() != token.RPAREN {
		if len(params) > 0 {
			p.expect(token.COMMA)
		}
		nameTok := p.cur()
		name := p.expectIdent()
		p.expect(token.COLON)
		typ := p.parseTypeRef()
		params = append(params, &ast.Param{Pos: posOf(nameTok), Name: name, Type: typ})
	}
	p.expect(token.RPAREN)
	return params
}

var primTypeKinds = map[token.Kind]string{
	token.KW_U8: "u8", token.KW_U16: "u16", token.KW_U32: "u32", token.KW_U64: "u64",
	token.KW_I8: "i8", token.KW_I16: "i16", token.KW_I32: "i32", token.KW_I64: "i64",
	token.KW_F32: "f32", token.KW_F64: "f64", token.KW_BOOL: "bool",
	token.KW_STAMP: "stamp", token.KW_DURATION: "duration",
}

func (p *parser) parseTypeRef() *ast.TypeRef {
	tok := p.cur()
	if name, ok := primTypeKinds[tok.Kind]; ok {
		p.advance()
		return &ast.TypeRef{Pos: posOf(tok), Kind: ast.TypePrim, Name: name}
	}
	switch tok.Kind {
	case token.KW_CAPSULE:
		p.advance()
		p.expect(token.LT)
		elem := p.parseTypeAtomName()
		p.expect(token.GT)
		return &ast.TypeRef{Pos: posOf(tok), Kind: ast.TypeCapsule, Elem: elem}
	case token.KW_PACKET:
		p.advance()
		p.expect(token.LT)
		elem := p.parseTypeAtomName()
		p.expect(token.GT)
		return &ast.TypeRef{Pos: posOf(tok), Kind: ast.TypePacket, Elem: elem}
	case token.KW_BYTE:
		p.advance()
		p.expect(token.LBRACKET)
		n := p.expect(token.INT)
		p.expect(token.RBRACKET)
		return &ast.TypeRef{Pos: posOf(tok), Kind: ast.TypeByteArray, N: int(n.Value.(int64))}
	default:
		p.fail("expected a type, got %s %q", tok.Kind, tok.Lexeme)
		return nil
	}
}

// parseTypeAtomName reads the single non-generic payload keyword inside
// capsule<…>/packet<…>; generics do not nest (spec.md §4.2).
func (p *parser) parseTypeAtomName() string {
	tok := p.cur()
	if name, ok := primTypeKinds[tok.Kind]; ok {
		p.advance()
		return name
	}
	if tok.Kind == token.KW_PACKET || tok.Kind == token.KW_CAPSULE {
		p.fail("nested generic payload not allowed")
	}
	p.fail("expected a primitive type inside generic, got %s %q", tok.Kind, tok.Lexeme)
	return ""
}

func (p *parser) parseFunctionDecl() *ast.FunctionDecl {
	tok := p.advance() // KW_FUNCTION
	name := p.expectDollar()
	params := p.parseParams()
	var ret *ast.TypeRef
	if p.peekKind() == token.COLON {
		p.advance()
		ret = p.parseTypeRef()
	}
	body := p.parseBlock()
	return &ast.FunctionDecl{Pos: posOf(tok), Name: name, Params: params, Ret: ret, Body: body}
}

func (p *parser) parseWorkerDecl() *ast.WorkerDecl {
	tok := p.advance() // KW_WORKER
	name := p.expectDollar()
	params := p.parseParams()
	body := p.parseBlock()
	return &ast.WorkerDecl{Pos: posOf(tok), Name: name, Params: params, Body: body}
}

func (p *parser) parseLetDecl() *ast.LetDecl {
	tok := p.advance() // KW_LET
	name := p.expectDollar()
	p.expect(token.COLON)
	typ := p.parseTypeRef()
	var value ast.Expr
	if p.peekKind() == token.ASSIGN {
		p.advance()
		value = p.parseExpr(0)
	}
	p.expect(token.SEMICOLON)
	return &ast.LetDecl{Pos: posOf(tok), Name: name, Type: typ, Value: value}
}

// --- Blocks and statements ---

func (p *parser) parseBlock() *ast.Block {
	open := p.expect(token.LBRACE)
	blk := &ast.Block{Pos: posOf(open)}
	for p.peekKind() != token.RBRACE {
		blk.Stmts = append(blk.Stmts, p.parseStatement())
	}
	p.expect(token.RBRACE)
	return blk
}

func (p *parser) parseStatement() ast.Stmt {
	tok := p.cur()
	switch tok.Kind {
	case token.LABEL:
		p.advance()
		return &ast.LabelStmt{Pos: posOf(tok), Name: tok.Value.(string)}
	case token.KW_LET:
		return p.parseLetDecl()
	case token.KW_GOTO:
		p.advance()
		lbl := p.expect(token.LABEL)
		return &ast.GotoStmt{Pos: posOf(tok), Label: lbl.Value.(string)}
	case token.KW_INITIALIZE:
		return p.parseLongInit(tok)
	case token.KW_ASSIGN:
		return p.parseLongAssign(tok)
	case token.KW_INVOKE:
		return p.parseLongInvoke(tok)
	case token.KW_TERMINATE:
		return p.parseLongTerminate(tok)

	case token.HASH_INIT:
		return p.parseShortCapsuleOp(tok, ast.OpInit)
	case token.HASH_LEASE:
		return p.parseShortCapsuleOp(tok, ast.OpLease)
	case token.HASH_SUBLEASE:
		return p.parseShortCapsuleOp(tok, ast.OpSublease)
	case token.HASH_RELEASE:
		return p.parseShortCapsuleOp(tok, ast.OpRelease)
	case token.HASH_CHECK_EXP:
		return p.parseShortCapsuleOp(tok, ast.OpCheckExp)
	case token.HASH_RENDER:
		return p.parseShortCapsuleOp(tok, ast.OpRender)
	case token.HASH_INPUT:
		return p.parseShortCapsuleOp(tok, ast.OpInput)
	case token.HASH_OUTPUT:
		return p.parseShortCapsuleOp(tok, ast.OpOutput)
	case token.HASH_EXIT:
		p.advance()
		return &ast.CapsuleOp{Pos: posOf(tok), Kind: ast.OpExit}
	case token.HASH_YIELD:
		p.advance()
		return &ast.CapsuleOp{Pos: posOf(tok), Kind: ast.OpYield}

	case token.HASH_LOAD:
		p.advance()
		target := p.expectDollar()
		p.expect(token.COMMA)
		val := p.parseExpr(0)
		return &ast.LoadStmt{Pos: posOf(tok), Target: target, Value: val}

	case token.HASH_CALL:
		p.advance()
		fn := p.expectDollar()
		call := &ast.CallStmt{Pos: posOf(tok), Func: fn}
		if p.peekKind() == token.COMMA {
			p.advance()
			call.Arg = p.expectDollar()
			call.HasArg = true
		}
		return call

	case token.HASH_SEND:
		p.advance()
		ch := p.expectDollar()
		p.expect(token.COMMA)
		pkt := p.expectDollar()
		return &ast.SendStmt{Pos: posOf(tok), Chan: ch, Pkt: pkt}

	case token.HASH_RECV:
		p.advance()
		ch := p.expectDollar()
		p.expect(token.COMMA)
		pkt := p.expectDollar()
		return &ast.RecvStmt{Pos: posOf(tok), Chan: ch, Pkt: pkt}

	case token.HASH_SPAWN:
		p.advance()
		fn := p.expectDollar()
		spawn := &ast.SpawnStmt{Pos: posOf(tok), Func: fn}
		for p.peekKind() == token.COMMA {
			p.advance()
			spawn.Args = append(spawn.Args, p.expectDollar())
		}
		return spawn

	case token.HASH_JOIN:
		p.advance()
		thr := p.expectDollar()
		return &ast.JoinStmt{Pos: posOf(tok), Thread: thr}

	case token.HASH_STAMP:
		p.advance()
		target := p.expectDollar()
		p.expect(token.COMMA)
		val := p.parseExpr(0)
		return &ast.StampStmt{Pos: posOf(tok), Target: target, Value: val}

	case token.HASH_EXPIRE:
		p.advance()
		target := p.expectDollar()
		p.expect(token.COMMA)
		dur := p.parseExpr(0)
		return &ast.ExpireStmt{Pos: posOf(tok), Target: target, Duration: dur}

	case token.HASH_SLEEP:
		p.advance()
		dur := p.parseExpr(0)
		return &ast.SleepStmt{Pos: posOf(tok), Duration: dur}

	case token.HASH_ERROR:
		p.advance()
		target := p.expectDollar()
		p.expect(token.COMMA)
		code := p.parseExpr(0)
		p.expect(token.COMMA)
		msg := p.expectString()
		return &ast.ErrorStmt{Pos: posOf(tok), Target: target, Code: code, Message: msg}

	case token.HASH_IF:
		return p.parseIf(tok)

	case token.HASH_LOOP:
		p.advance()
		p.expect(token.LPAREN)
		cond := p.parseExpr(0)
		p.expect(token.RPAREN)
		body := p.parseBlock()
		return &ast.LoopStmt{Pos: posOf(tok), Cond: cond, Body: body}

	case token.HASH_BREAK:
		p.advance()
		return &ast.BreakStmt{Pos: posOf(tok)}

	case token.HASH_CONTINUE:
		p.advance()
		return &ast.ContinueStmt{Pos: posOf(tok)}

	case token.HASH_RETURN:
		p.advance()
		ret := &ast.ReturnStmt{Pos: posOf(tok)}
		if !p.atStatementEnd() {
			ret.Value = p.parseExpr(0)
		}
		return ret

	case token.HASH_PRINT:
		p.advance()
		pr := &ast.PrintStmt{Pos: posOf(tok)}
		pr.Args = append(pr.Args, p.parseExpr(0))
		for p.peekKind() == token.COMMA {
			p.advance()
			pr.Args = append(pr.Args, p.parseExpr(0))
		}
		return pr

	default:
		p.fail("expected a statement, got %s %q", tok.Kind, tok.Lexeme)
		return nil
	}
}

// statementStarters are the token kinds that can only begin the next
// statement, never an expression; used to distinguish a bare "#return"
// from "#return <expr>" without a terminator token.
var statementStarters = map[token.Kind]bool{
	token.RBRACE: true, token.LABEL: true, token.KW_LET: true, token.KW_GOTO: true,
	token.KW_INITIALIZE: true, token.KW_ASSIGN: true, token.KW_INVOKE: true, token.KW_TERMINATE: true,
	token.HASH_INIT: true, token.HASH_LEASE: true, token.HASH_SUBLEASE: true, token.HASH_RELEASE: true,
	token.HASH_CHECK_EXP: true, token.HASH_LOAD: true, token.HASH_CALL: true, token.HASH_EXIT: true,
	token.HASH_RENDER: true, token.HASH_INPUT: true, token.HASH_OUTPUT: true, token.HASH_SEND: true,
	token.HASH_RECV: true, token.HASH_SPAWN: true, token.HASH_JOIN: true, token.HASH_STAMP: true,
	token.HASH_EXPIRE: true, token.HASH_SLEEP: true, token.HASH_YIELD: true, token.HASH_ERROR: true,
	token.HASH_IF: true, token.HASH_ELSE: true, token.HASH_ENDIF: true, token.HASH_LOOP: true,
	token.HASH_BREAK: true, token.HASH_CONTINUE: true, token.HASH_RETURN: true, token.HASH_PRINT: true,
}

func (p *parser) atStatementEnd() bool {
	return statementStarters[p.peekKind()]
}

func (p *parser) parseShortCapsuleOp(tok token.Token, kind ast.CapsuleOpKind) *ast.CapsuleOp {
	p.advance()
	target := p.expectDollar()
	return &ast.CapsuleOp{Pos: posOf(tok), Kind: kind, Target: target}
}

func (p *parser) parseIf(tok token.Token) *ast.IfStmt {
	p.advance() // HASH_IF
	p.expect(token.LPAREN)
	cond := p.parseExpr(0)
	p.expect(token.RPAREN)
	then := p.parseBlock()
	ifs := &ast.IfStmt{Pos: posOf(tok), Cond: cond, Then: then}
	if p.peekKind() == token.HASH_ELSE {
		p.advance()
		ifs.Else = p.parseBlock()
	}
	p.expect(token.HASH_ENDIF)
	return ifs
}

// --- Long-form keyword-sequence statements ---
// Only the forms spelled out by the language reference have a long-form
// spelling; every other statement (lease/sublease/release/check_exp/
// render/input/output/send/recv/spawn/join/stamp/expire/sleep/yield/error/
// if/loop/break/continue/return/print) exists only in shortcode form.
// `let` and `goto` have a single bare-keyword spelling.

func (p *parser) parseLongInit(tok token.Token) *ast.CapsuleOp {
	p.advance() // "initialize"
	p.expect(token.KW_CAPSULE)
	target := p.expectDollar()
	return &ast.CapsuleOp{Pos: posOf(tok), Kind: ast.OpInit, Target: target}
}

func (p *parser) parseLongAssign(tok token.Token) *ast.LoadStmt {
	p.advance() // "assign"
	p.expect(token.KW_VALUE)
	val := p.parseExpr(0)
	p.expect(token.KW_TO)
	p.expect(token.KW_CAPSULE)
	target := p.expectDollar()
	return &ast.LoadStmt{Pos: posOf(tok), Target: target, Value: val}
}

func (p *parser) parseLongInvoke(tok token.Token) *ast.CallStmt {
	p.advance() // "invoke"
	p.expect(token.KW_FUNCTION)
	fn := p.expectDollar()
	call := &ast.CallStmt{Pos: posOf(tok), Func: fn}
	if p.peekKind() == token.KW_WITH {
		p.advance()
		p.expect(token.KW_CAPSULE)
		call.Arg = p.expectDollar()
		call.HasArg = true
	}
	return call
}

func (p *parser) parseLongTerminate(tok token.Token) *ast.CapsuleOp {
	p.advance() // "terminate"
	p.expect(token.KW_EXECUTION)
	return &ast.CapsuleOp{Pos: posOf(tok), Kind: ast.OpExit}
}

// --- Expressions: Pratt precedence climbing ---
//
// Bands, lowest to highest: || , && , ==/!= , </>/<=/>= , +/- , * / % / .
// Unary !, ~, - bind tighter than any binary operator.

var binPrec = map[token.Kind]int{
	token.OR_OR:   1,
	token.AND_AND: 2,
	token.EQ:      3,
	token.NE:      3,
	token.LT:      4,
	token.GT:      4,
	token.LE:      4,
	token.GE:      4,
	token.PLUS:    5,
	token.MINUS:   5,
	token.STAR:    6,
	token.SLASH:   6,
	token.PERCENT: 6,
}

var binOpKind = map[token.Kind]ast.BinaryKind{
	token.OR_OR:   ast.BinOr,
	token.AND_AND: ast.BinAnd,
	token.EQ:      ast.BinEq,
	token.NE:      ast.BinNe,
	token.LT:      ast.BinLt,
	token.GT:      ast.BinGt,
	token.LE:      ast.BinLe,
	token.GE:      ast.BinGe,
	token.PLUS:    ast.BinAdd,
	token.MINUS:   ast.BinSub,
	token.STAR:    ast.BinMul,
	token.SLASH:   ast.BinDiv,
	token.PERCENT: ast.BinMod,
}

func (p *parser) parseExpr(minPrec int) ast.Expr {
	lhs := p.parseUnary()
	for {
		prec, ok := binPrec[p.peekKind()]
		if !ok || prec < minPrec {
			return lhs
		}
		opTok := p.advance()
		rhs := p.parseExpr(prec + 1)
		lhs = &ast.BinaryOp{Pos: posOf(opTok), Op: binOpKind[opTok.Kind], Lhs: lhs, Rhs: rhs}
	}
}

func (p *parser) parseUnary() ast.Expr {
	tok := p.cur()
	var kind ast.UnaryKind
	switch tok.Kind {
	case token.BANG:
		kind = ast.UnNot
	case token.MINUS:
		kind = ast.UnNeg
	case token.TILDE:
		kind = ast.UnBitNot
	default:
		return p.parsePrimary()
	}
	p.advance()
	rhs := p.parseUnary()
	return &ast.UnaryOp{Pos: posOf(tok), Op: kind, Rhs: rhs}
}

func (p *parser) parsePrimary() ast.Expr {
	tok := p.cur()
	switch tok.Kind {
	case token.INT:
		p.advance()
		return &ast.Literal{Pos: posOf(tok), Kind: ast.LitInt, Value: tok.Value}
	case token.HEX:
		p.advance()
		return &ast.Literal{Pos: posOf(tok), Kind: ast.LitHex, Value: tok.Value}
	case token.DURATION:
		p.advance()
		return &ast.Literal{Pos: posOf(tok), Kind: ast.LitDuration, Value: tok.Value}
	case token.STRING:
		p.advance()
		return &ast.Literal{Pos: posOf(tok), Kind: ast.LitString, Value: tok.Value}
	case token.BOOL:
		p.advance()
		return &ast.Literal{Pos: posOf(tok), Kind: ast.LitBool, Value: tok.Value}
	case token.DOLLAR_IDENT:
		p.advance()
		return &ast.Identifier{Pos: posOf(tok), Name: tok.Value.(string), IsDollar: true}
	case token.IDENT:
		p.advance()
		name := tok.Value.(string)
		if p.peekKind() == token.LPAREN {
			return p.parseCallExprTail(tok, name)
		}
		return &ast.Identifier{Pos: posOf(tok), Name: name, IsDollar: false}
	case token.LPAREN:
		p.advance()
		inner := p.parseExpr(0)
		p.expect(token.RPAREN)
		return inner
	default:
		p.fail("expected an expression, got %s %q", tok.Kind, tok.Lexeme)
		return nil
	}
}

func (p *parser) parseCallExprTail(tok token.Token, name string) *ast.CallExpr {
	p.expect(token.LPAREN)
	call := &ast.CallExpr{Pos: posOf(tok), Name: name}
	for p.peekKind() != token.RPAREN {
		if len(call.Args) > 0 {
			p.expect(token.COMMA)
		}
		call.Args = append(call.Args, p.parseExpr(0))
	}
	p.expect(token.RPAREN)
	return call
}
