// Package starcode implements the ahead-of-time semantic checks ("Star-Code"
// rules) over a parsed program: capsule lease-state discipline and goto
// target resolution. It never re-lexes or re-parses; it only walks the
// tree pkg/parser already built.
package starcode

import (
	"fmt"

	"eminor/pkg/ast"
)

type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Diagnostic is the stable, JSON-shaped record described by spec.md §4.3;
// field names here are chosen to match the external a.star.json contract
// once tagged by pkg/pipeline's json struct tags.
type Diagnostic struct {
	Severity Severity
	Code     string
	Line     int
	Column   int
	Message  string
}

type capState int

const (
	capUninit capState = iota
	capInit
	capLeased
	capSubleased
	capReleased
	capErrored // suppresses further lease-discipline diagnostics for this capsule
)

type capsule struct {
	state     capState
	subleases int
}

// scope holds the per-function (or per-entry-block) validation state: a
// capsule table and the set of labels visible anywhere in the body.
type scope struct {
	caps   map[string]*capsule
	labels map[string]bool
	diags  *[]Diagnostic
}

// Validate walks prog once per top-level body (the entry block and every
// function/worker) and returns every diagnostic found. Capsule state does
// not cross body boundaries: each function/worker/entry block is its own
// lease-discipline scope.
func Validate(prog *ast.Program) []Diagnostic {
	var diags []Diagnostic

	validateBody(prog.Entry.Body, &diags)
	for _, item := range prog.Items {
		switch d := item.(type) {
		case *ast.FunctionDecl:
			validateBody(d.Body, &diags)
		case *ast.WorkerDecl:
			validateBody(d.Body, &diags)
		}
	}
	return diags
}

func validateBody(body *ast.Block, diags *[]Diagnostic) {
	sc := &scope{caps: map[string]*capsule{}, labels: map[string]bool{}, diags: diags}
	collectLabels(body.Stmts, sc.labels)
	sc.walkBlock(body)
}

func collectLabels(stmts []ast.Stmt, out map[string]bool) {
	for _, s := range stmts {
		switch v := s.(type) {
		case *ast.LabelStmt:
			out[v.Name] = true
		case *ast.IfStmt:
			collectLabels(v.Then.Stmts, out)
			if v.Else != nil {
				collectLabels(v.Else.Stmts, out)
			}
		case *ast.LoopStmt:
			collectLabels(v.Body.Stmts, out)
		}
	}
}

func (sc *scope) report(sev Severity, code string, pos ast.Pos, format string, args ...any) {
	*sc.diags = append(*sc.diags, Diagnostic{
		Severity: sev, Code: code, Line: pos.Line, Column: pos.Column,
		Message: fmt.Sprintf(format, args...),
	})
}

func (sc *scope) cap(name string) *capsule {
	c, ok := sc.caps[name]
	if !ok {
		c = &capsule{state: capUninit}
		sc.caps[name] = c
	}
	return c
}

func (sc *scope) walkBlock(b *ast.Block) {
	for _, s := range b.Stmts {
		sc.walkStmt(s)
	}
}

func (sc *scope) walkStmt(s ast.Stmt) {
	switch v := s.(type) {
	case *ast.LetDecl:
		sc.cap(v.Name).state = capInit

	case *ast.CapsuleOp:
		sc.walkCapsuleOp(v)

	case *ast.LoadStmt:
		sc.checkUse(v.Target, v.Pos, "SC001", "capsule")
	case *ast.StampStmt:
		sc.checkUse(v.Target, v.Pos, "SC001", "capsule")
	case *ast.ExpireStmt:
		sc.checkUse(v.Target, v.Pos, "SC001", "capsule")
		sc.checkNegativeDuration(v.Duration, "SC021", v.Pos)
	case *ast.SleepStmt:
		sc.checkNegativeDuration(v.Duration, "SC020", v.Pos)
	case *ast.ErrorStmt:
		sc.checkUse(v.Target, v.Pos, "SC001", "capsule")
	case *ast.SendStmt:
		sc.checkUse(v.Chan, v.Pos, "SC002", "channel")
		sc.checkUse(v.Pkt, v.Pos, "SC003", "packet")
	case *ast.RecvStmt:
		sc.checkUse(v.Chan, v.Pos, "SC002", "channel")
		sc.checkUse(v.Pkt, v.Pos, "SC003", "packet")
	case *ast.JoinStmt:
		sc.checkUse(v.Thread, v.Pos, "SC001", "capsule")
	case *ast.SpawnStmt:
		for _, a := range v.Args {
			sc.checkUse(a, v.Pos, "SC001", "capsule")
		}

	case *ast.IfStmt:
		if lit, ok := v.Cond.(*ast.Literal); ok && lit.Kind != ast.LitBool {
			sc.report(Warning, "SC030", v.Pos, "#if condition is a non-bool literal")
		}
		sc.walkBlock(v.Then)
		if v.Else != nil {
			sc.walkBlock(v.Else)
		}

	case *ast.LoopStmt:
		sc.walkBlock(v.Body)

	case *ast.GotoStmt:
		if !sc.labels[v.Label] {
			sc.report(Error, "SC040", v.Pos, "goto target ':%s' is not defined in this scope", v.Label)
		}

	case *ast.CallStmt, *ast.LabelStmt, *ast.BreakStmt, *ast.ContinueStmt, *ast.ReturnStmt, *ast.PrintStmt:
		// No lease-discipline or goto target to check.
	}
}

func (sc *scope) checkUse(name string, pos ast.Pos, code, what string) {
	c := sc.cap(name)
	if c.state == capUninit {
		sc.report(Warning, code, pos, "%s '$%s' used with no #init or let predecessor", what, name)
		c.state = capErrored
	}
}

// checkNegativeDuration flags "-<duration literal>": the lexer only ever
// produces unsigned DURATION values, so a negative duration can only reach
// here as a unary minus wrapping a duration literal.
func (sc *scope) checkNegativeDuration(expr ast.Expr, code string, pos ast.Pos) {
	u, ok := expr.(*ast.UnaryOp)
	if !ok || u.Op != ast.UnNeg {
		return
	}
	if lit, ok := u.Rhs.(*ast.Literal); ok && lit.Kind == ast.LitDuration {
		sc.report(Warning, code, pos, "duration literal is negative")
	}
}

func (sc *scope) walkCapsuleOp(v *ast.CapsuleOp) {
	switch v.Kind {
	case ast.OpInit:
		c := sc.cap(v.Target)
		if c.state == capUninit {
			c.state = capInit
		}
	case ast.OpLease:
		c := sc.cap(v.Target)
		if c.state == capErrored {
			return
		}
		if c.state == capLeased {
			sc.report(Error, "SC010", v.Pos, "capsule '$%s' leased twice without an intervening #release", v.Target)
			c.state = capErrored
			return
		}
		c.state = capLeased
	case ast.OpSublease:
		c := sc.cap(v.Target)
		if c.state == capErrored {
			return
		}
		if c.state != capLeased && c.state != capSubleased {
			sc.report(Warning, "SC011", v.Pos, "capsule '$%s' subleased while not leased or subleased", v.Target)
		}
		c.state = capSubleased
		c.subleases++
	case ast.OpRelease:
		c := sc.cap(v.Target)
		if c.state == capErrored {
			return
		}
		switch c.state {
		case capReleased:
			sc.report(Warning, "SC013", v.Pos, "capsule '$%s' released twice", v.Target)
		case capLeased:
			c.state = capReleased
		case capSubleased:
			c.subleases--
			if c.subleases <= 0 {
				c.state = capReleased
			}
		default:
			sc.report(Warning, "SC012", v.Pos, "capsule '$%s' released while not leased or subleased", v.Target)
			c.state = capReleased
		}
	case ast.OpCheckExp, ast.OpRender, ast.OpInput, ast.OpOutput:
		sc.checkUse(v.Target, v.Pos, "SC001", "capsule")
	case ast.OpExit, ast.OpYield:
		// No capsule operand.
	}
}
