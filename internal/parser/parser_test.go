package parser

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestDecompose_PlainSentences(t *testing.T) {
	d := NewTextDecomposer()
	src := "Alpha beta gamma. Delta epsilon."

	dec := d.Decompose(src)
	if len(dec.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(dec.Blocks))
	}
	b := dec.Blocks[0]
	if b.Type != BlockParagraph {
		t.Errorf("block type = %d, want paragraph", b.Type)
	}
	if len(b.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(b.Statements))
	}
	if got := b.Statements[0].Content(src); got != "Alpha beta gamma." {
		t.Errorf("statement[0] = %q", got)
	}
	if got := b.Statements[1].Content(src); got != "Delta epsilon." {
		t.Errorf("statement[1] = %q", got)
	}
}

func TestDecompose_CodeFence(t *testing.T) {
	d := NewTextDecomposer()
	src := "intro\n\n```python\na=1\nb=2\n```\nafter"

	dec := d.Decompose(src)
	if len(dec.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(dec.Blocks))
	}

	if dec.Blocks[0].Type != BlockParagraph || dec.Blocks[0].Content(src) != "intro" {
		t.Errorf("block[0] = %q (type %d), want TEXT \"intro\"", dec.Blocks[0].Content(src), dec.Blocks[0].Type)
	}

	code := dec.Blocks[1]
	if code.Type != BlockCode {
		t.Fatalf("block[1] type = %d, want code", code.Type)
	}
	if code.Language != "python" {
		t.Errorf("language = %q, want python", code.Language)
	}
	if len(code.Statements) != 2 {
		t.Fatalf("code block has %d statements, want 2", len(code.Statements))
	}
	if code.Statements[0].Content(src) != "a=1" || code.Statements[1].Content(src) != "b=2" {
		t.Errorf("code statements = %q, %q", code.Statements[0].Content(src), code.Statements[1].Content(src))
	}
	if strings.Contains(code.Content(src), "```") {
		t.Error("code block content must exclude the fence lines")
	}

	if dec.Blocks[2].Type != BlockParagraph || dec.Blocks[2].Content(src) != "after" {
		t.Errorf("block[2] = %q, want TEXT \"after\"", dec.Blocks[2].Content(src))
	}
}

func TestDecompose_TildeFence(t *testing.T) {
	d := NewTextDecomposer()
	src := "~~~go\nx := 1\n~~~"

	dec := d.Decompose(src)
	if len(dec.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(dec.Blocks))
	}
	if dec.Blocks[0].Type != BlockCode || dec.Blocks[0].Language != "go" {
		t.Errorf("block = type %d lang %q, want code/go", dec.Blocks[0].Type, dec.Blocks[0].Language)
	}
}

func TestDecompose_UnclosedFence(t *testing.T) {
	d := NewTextDecomposer()
	src := "before\n\n```sh\necho one\necho two"

	dec := d.Decompose(src)
	if len(dec.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(dec.Blocks))
	}
	code := dec.Blocks[1]
	if code.Type != BlockCode {
		t.Fatalf("block[1] type = %d, want code", code.Type)
	}
	if len(code.Statements) != 2 {
		t.Errorf("unclosed fence yielded %d statements, want 2 (rest of buffer)", len(code.Statements))
	}
}

func TestDecompose_FenceMustStartLine(t *testing.T) {
	d := NewTextDecomposer()
	src := "inline ``` marks are not fences"

	dec := d.Decompose(src)
	if len(dec.Blocks) != 1 || dec.Blocks[0].Type != BlockParagraph {
		t.Errorf("mid-line backticks misread as a fence: %+v", dec.Blocks)
	}
}

func TestDecompose_LanguageTagCapped(t *testing.T) {
	d := NewTextDecomposer()
	tag := strings.Repeat("x", 50)
	src := "```" + tag + "\ncode\n```"

	dec := d.Decompose(src)
	if len(dec.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(dec.Blocks))
	}
	if got := len(dec.Blocks[0].Language); got != MaxLanguageTagLen {
		t.Errorf("language tag length = %d, want %d", got, MaxLanguageTagLen)
	}
}

func TestDecompose_Abbreviations(t *testing.T) {
	d := NewTextDecomposer()
	src := "Ask Dr. Smith about i.e. the plan. Then leave."

	dec := d.Decompose(src)
	if len(dec.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(dec.Blocks))
	}
	stmts := dec.Blocks[0].Statements
	if len(stmts) != 2 {
		for _, s := range stmts {
			t.Logf("statement: %q", s.Content(src))
		}
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
	if !strings.HasPrefix(stmts[1].Content(src), "Then") {
		t.Errorf("statement[1] = %q, want it to start with \"Then\"", stmts[1].Content(src))
	}
}

func TestDecompose_SingleLetterInitial(t *testing.T) {
	d := NewTextDecomposer()
	src := "Talk to J. Doe first. Report back."

	dec := d.Decompose(src)
	stmts := dec.Blocks[0].Statements
	if len(stmts) != 2 {
		for _, s := range stmts {
			t.Logf("statement: %q", s.Content(src))
		}
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
}

func TestDecompose_LowercaseContinuationNotSplit(t *testing.T) {
	d := NewTextDecomposer()
	src := "version 2.0 shipped. it works now"

	dec := d.Decompose(src)
	stmts := dec.Blocks[0].Statements
	// "it" is lowercase, so the period does not end a sentence.
	if len(stmts) != 1 {
		t.Errorf("got %d statements, want 1 (no uppercase after the period)", len(stmts))
	}
}

func TestDecompose_ClosingQuoteBelongsToSentence(t *testing.T) {
	d := NewTextDecomposer()
	src := `He said "stop." Then silence.`

	dec := d.Decompose(src)
	stmts := dec.Blocks[0].Statements
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
	if got := stmts[0].Content(src); !strings.HasSuffix(got, `"`) {
		t.Errorf("statement[0] = %q, want the closing quote included", got)
	}
}

func TestDecompose_ParagraphsOnBlankLines(t *testing.T) {
	d := NewTextDecomposer()
	src := "First paragraph.\n   \nSecond paragraph."

	dec := d.Decompose(src)
	if len(dec.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2 (whitespace-only line is a break)", len(dec.Blocks))
	}
}

func TestDecompose_Deterministic(t *testing.T) {
	d := NewTextDecomposer()
	src := "Intro text. More text!\n\n```rust\nlet x = 1;\n```\n\n- item one\n- item two\n\nOutro."

	a := d.Decompose(src)
	b := d.Decompose(src)

	if !reflect.DeepEqual(a, b) {
		t.Error("two runs over the same input produced different decompositions")
	}
}

func TestDecompose_SpansWithinBounds(t *testing.T) {
	d := NewTextDecomposer()
	inputs := []string{
		"",
		"plain",
		"a. B. c! D?",
		"```\nunclosed",
		strings.Repeat("Sentence here. ", 300),
		"para\n\n\n\npara\n\n```x\ny\n```",
	}

	for _, src := range inputs {
		dec := d.Decompose(src)
		for bi, b := range dec.Blocks {
			if b.Start < 0 || b.End > len(src) || b.Start > b.End {
				t.Fatalf("input %q: block %d span [%d,%d) out of bounds", src, bi, b.Start, b.End)
			}
			for si, s := range b.Statements {
				if s.Start < b.Start || s.End > b.End {
					t.Fatalf("input %q: statement %d/%d span [%d,%d) outside block [%d,%d)",
						src, bi, si, s.Start, s.End, b.Start, b.End)
				}
			}
		}
	}
}

func TestDecompose_BlockCap(t *testing.T) {
	d := NewTextDecomposer()
	var sb strings.Builder
	for i := 0; i < MaxBlocksPerMessage*2; i++ {
		fmt.Fprintf(&sb, "paragraph %d\n\n", i)
	}

	dec := d.Decompose(sb.String())
	if len(dec.Blocks) != MaxBlocksPerMessage {
		t.Errorf("got %d blocks, want cap %d", len(dec.Blocks), MaxBlocksPerMessage)
	}
}

func TestDecompose_StatementCap(t *testing.T) {
	d := NewTextDecomposer()
	var sb strings.Builder
	sb.WriteString("```\n")
	for i := 0; i < MaxStatementsPerBlock*2; i++ {
		fmt.Fprintf(&sb, "line%d\n", i)
	}
	sb.WriteString("```")

	dec := d.Decompose(sb.String())
	if len(dec.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(dec.Blocks))
	}
	if got := len(dec.Blocks[0].Statements); got != MaxStatementsPerBlock {
		t.Errorf("got %d statements, want cap %d", got, MaxStatementsPerBlock)
	}
}

func TestDecompose_ListItems(t *testing.T) {
	d := NewTextDecomposer()
	src := "- apples\n- bananas\n- cherries"

	dec := d.Decompose(src)
	if len(dec.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(dec.Blocks))
	}
	b := dec.Blocks[0]
	if b.Type != BlockList {
		t.Fatalf("block type = %d, want list", b.Type)
	}
	if len(b.Statements) != 3 {
		t.Fatalf("got %d list items, want 3", len(b.Statements))
	}
	if b.Statements[1].Content(src) != "- bananas" {
		t.Errorf("item[1] = %q", b.Statements[1].Content(src))
	}
}

func TestDecompose_EmptyInput(t *testing.T) {
	d := NewTextDecomposer()
	for _, src := range []string{"", "   ", "\n\n\n"} {
		dec := d.Decompose(src)
		if len(dec.Blocks) != 0 {
			t.Errorf("Decompose(%q) yielded %d blocks, want 0", src, len(dec.Blocks))
		}
	}
}
