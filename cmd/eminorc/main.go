// Command eminorc compiles an E-Minor source file to a linked byte image
// plus its symbol table, rodata segment, and (optionally) a disassembly.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"eminor/pkg/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("eminorc", flag.ContinueOnError)
	outDir := fs.String("o", "out", "output directory")
	noDisasm := fs.Bool("no-disasm", false, "skip writing a.dis.txt")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: eminorc <input> [-o OUTDIR] [--no-disasm]")
		return 1
	}
	input := fs.Arg(0)
	// Flag parsing stops at the first positional argument; parse whatever
	// follows the input path too, so "<input> -o OUTDIR" works.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return 1
	}

	src, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot read %s: %v\n", input, err)
		return 1
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if base == "" {
		base = "a"
	}

	result, err := pipeline.Compile(string(src))
	printIssues(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if result != nil && len(result.Issues) > 0 {
			writeStarJSON(*outDir, base, result) // <base>.star.json is still written on a StarCode-error abort
		}
		return 1
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot create %s: %v\n", *outDir, err)
		return 1
	}

	if err := writeOutputs(*outDir, base, result, !*noDisasm); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printIssues(result *pipeline.Result) {
	if result == nil {
		return
	}
	for _, issue := range result.Issues {
		fmt.Fprintf(os.Stderr, "%s: %s @%d:%d\n", issue.Severity, issue.Message, issue.Line, issue.Column)
	}
}

func writeOutputs(outDir, base string, result *pipeline.Result, disasm bool) error {
	if err := os.WriteFile(filepath.Join(outDir, base+".ir.bin"), result.Image, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, base+".text.hex"), []byte(toHex(result.Image)), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, base+".rodata.bin"), result.Rodata, 0o644); err != nil {
		return err
	}
	symData, err := json.MarshalIndent(result.Symbols, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "symbols.json"), symData, 0o644); err != nil {
		return err
	}
	if disasm {
		if err := os.WriteFile(filepath.Join(outDir, base+".dis.txt"), []byte(result.Disasm), 0o644); err != nil {
			return err
		}
	}
	if len(result.Issues) > 0 {
		if err := writeStarJSON(outDir, base, result); err != nil {
			return err
		}
	}
	return nil
}

func writeStarJSON(outDir, base string, result *pipeline.Result) error {
	type starFile struct {
		Issues []pipeline.Issue `json:"issues"`
	}
	data, err := json.MarshalIndent(starFile{Issues: result.Issues}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, base+".star.json"), data, 0o644)
}

func toHex(b []byte) string {
	var sb strings.Builder
	for i, by := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", by)
	}
	return sb.String()
}
