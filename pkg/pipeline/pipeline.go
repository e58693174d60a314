// Package pipeline orchestrates the full compiler core — lex, parse,
// validate, emit, optimize, link, disassemble — and shapes the JSON
// artifacts described by spec.md §6.
package pipeline

import (
	"fmt"

	"eminor/pkg/ast"
	"eminor/pkg/disasm"
	"eminor/pkg/emitter"
	"eminor/pkg/lexer"
	"eminor/pkg/linker"
	"eminor/pkg/optimizer"
	"eminor/pkg/parser"
	"eminor/pkg/starcode"
)

// Issue mirrors a starcode.Diagnostic in the shape a.star.json expects.
type Issue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
}

// Symbols is the symbols.json shape: function name (with its '$' sigil
// restored) to absolute byte offset.
type Symbols struct {
	Functions map[string]uint32 `json:"functions"`
}

// Result bundles every artifact a successful compilation produces.
type Result struct {
	Program  *ast.Program
	Issues   []Issue
	Image    []byte
	Rodata   []byte
	Symbols  Symbols
	Disasm   string
}

// Compile runs the full pipeline over src. A *starcode-level* error set
// aborts before emission (no output files), matching spec.md §7's
// propagation policy; warnings are returned in Result.Issues regardless.
func Compile(src string) (*Result, error) {
	toks, err := lexer.Lex(src)
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}

	prog, err := parser.Parse(toks, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	diags := starcode.Validate(prog)
	issues := make([]Issue, 0, len(diags))
	hasError := false
	for _, d := range diags {
		issues = append(issues, Issue{
			Severity: d.Severity.String(), Code: d.Code,
			Line: d.Line, Column: d.Column, Message: d.Message,
		})
		if d.Severity == starcode.Error {
			hasError = true
		}
	}
	if hasError {
		return &Result{Program: prog, Issues: issues}, fmt.Errorf("validate: one or more Star-Code errors")
	}

	img, err := emitter.Emit(prog)
	if err != nil {
		return &Result{Program: prog, Issues: issues}, fmt.Errorf("emit: %w", err)
	}

	img = optimizer.Optimize(img)

	symbols, err := linker.Link(img)
	if err != nil {
		return &Result{Program: prog, Issues: issues}, fmt.Errorf("link: %w", err)
	}

	funcSymbols := make(map[string]uint32, len(img.FuncOffsets))
	for name, off := range img.FuncOffsets {
		funcSymbols["$"+name] = off
	}

	return &Result{
		Program: prog,
		Issues:  issues,
		Image:   img.Bytes,
		Rodata:  img.Rodata,
		Symbols: Symbols{Functions: funcSymbols},
		Disasm:  disasm.Disassemble(img.Bytes, symbols),
	}, nil
}
