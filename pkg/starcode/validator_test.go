package starcode

import (
	"testing"

	"eminor/pkg/lexer"
	"eminor/pkg/parser"
)

func diagsFor(t *testing.T, src string) []Diagnostic {
	t.Helper()
	toks, err := lexer.Lex(src)
	if err != nil {
		t.Fatalf("lex error: %v", err)
	}
	prog, err := parser.Parse(toks, src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return Validate(prog)
}

func hasCode(diags []Diagnostic, code string) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}

func countCode(diags []Diagnostic, code string) int {
	n := 0
	for _, d := range diags {
		if d.Code == code {
			n++
		}
	}
	return n
}

func TestDoubleLeaseIsError(t *testing.T) {
	diags := diagsFor(t, `@main { #init $A0 #lease $A0 #lease $A0 #exit }`)
	if countCode(diags, "SC010") != 1 {
		t.Fatalf("expected exactly one SC010, got %v", diags)
	}
	for _, d := range diags {
		if d.Code == "SC010" && d.Severity != Error {
			t.Fatalf("SC010 should be error severity, got %v", d.Severity)
		}
	}
}

func TestGotoMissingLabelIsError(t *testing.T) {
	diags := diagsFor(t, `@main { goto :missing #exit }`)
	if countCode(diags, "SC040") != 1 {
		t.Fatalf("expected exactly one SC040, got %v", diags)
	}
}

func TestGotoKnownLabelIsClean(t *testing.T) {
	diags := diagsFor(t, `@main { goto :here :here #exit }`)
	if hasCode(diags, "SC040") {
		t.Fatalf("did not expect SC040, got %v", diags)
	}
}

func TestNegativeSleepDurationWarns(t *testing.T) {
	diags := diagsFor(t, `@main { #sleep -5m #exit }`)
	if countCode(diags, "SC020") != 1 {
		t.Fatalf("expected exactly one SC020, got %v", diags)
	}
	for _, d := range diags {
		if d.Code == "SC020" && d.Severity != Warning {
			t.Fatalf("SC020 should be a warning, got %v", d.Severity)
		}
	}
}

func TestNegativeExpireDurationWarns(t *testing.T) {
	diags := diagsFor(t, `@main { #init $K0 #expire $K0, -1h #exit }`)
	if countCode(diags, "SC021") != 1 {
		t.Fatalf("expected exactly one SC021, got %v", diags)
	}
}

func TestNonBoolIfConditionWarns(t *testing.T) {
	diags := diagsFor(t, `@main { #if (1) { #exit } #endif }`)
	if countCode(diags, "SC030") != 1 {
		t.Fatalf("expected exactly one SC030, got %v", diags)
	}
}

func TestBoolIfConditionIsClean(t *testing.T) {
	diags := diagsFor(t, `@main { #if (true) { #exit } #endif }`)
	if hasCode(diags, "SC030") {
		t.Fatalf("did not expect SC030, got %v", diags)
	}
}

func TestUseBeforeInitWarns(t *testing.T) {
	diags := diagsFor(t, `@main { #load $A0, 1 #exit }`)
	if countCode(diags, "SC001") != 1 {
		t.Fatalf("expected exactly one SC001, got %v", diags)
	}
}

func TestReleaseTwiceWarns(t *testing.T) {
	diags := diagsFor(t, `@main { #init $A0 #lease $A0 #release $A0 #release $A0 #exit }`)
	if countCode(diags, "SC013") != 1 {
		t.Fatalf("expected exactly one SC013, got %v", diags)
	}
}

func TestValidatorMonotonicity(t *testing.T) {
	before := diagsFor(t, `@main { #load $A0, 1 #exit }`)
	after := diagsFor(t, `@main { #init $A0 #load $A0, 1 #exit }`)
	beforeSC001 := countCode(before, "SC001")
	afterSC001 := countCode(after, "SC001")
	if afterSC001 > beforeSC001 {
		t.Fatalf("adding #init introduced a new SC001: before=%d after=%d", beforeSC001, afterSC001)
	}
}
