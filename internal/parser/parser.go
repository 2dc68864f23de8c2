// Package parser provides content decomposition for the hierarchical memory
// structure. It breaks message content into blocks (fenced code, paragraphs,
// lists) and statements (sentences, code lines, list items) as byte-offset
// spans into the original content, never copying the text itself until a
// caller asks for it.
package parser

import (
	"regexp"
	"strings"
)

// BlockType identifies the type of block.
type BlockType int

const (
	BlockParagraph BlockType = iota
	BlockCode
	BlockList
)

// StatementType identifies the type of statement.
type StatementType int

const (
	StatementSentence StatementType = iota
	StatementCodeLine
	StatementListItem
)

// MaxBlocksPerMessage caps how many blocks a single message decomposes
// into; content past the cap is dropped.
const MaxBlocksPerMessage = 64

// MaxStatementsPerBlock caps how many statements a single block decomposes
// into; content past the cap is dropped.
const MaxStatementsPerBlock = 128

// MaxLanguageTagLen caps the language tag carried on an opening code fence.
const MaxLanguageTagLen = 31

// StatementSpan is a non-copying view into a block's source text.
type StatementSpan struct {
	Start int
	End   int
	Type  StatementType
}

// Content slices src to the statement's text. Slicing a Go string never
// copies the underlying bytes, so this is still pointer-stable.
func (s StatementSpan) Content(src string) string {
	return src[s.Start:s.End]
}

// BlockSpan is a non-copying view into a message's source text, with its
// own statement spans relative to the same source.
type BlockSpan struct {
	Start      int
	End        int
	Type       BlockType
	Language   string // set for BlockCode
	Statements []StatementSpan
}

// Content slices src to the block's text.
func (b BlockSpan) Content(src string) string {
	return src[b.Start:b.End]
}

// Decomposition is the full span-based breakdown of one message's content.
type Decomposition struct {
	Source string
	Blocks []BlockSpan
}

var listItemPrefix = regexp.MustCompile(`^(\s*)([-*+]|\d+\.)\s`)

// abbreviations whose trailing period must not be treated as a sentence
// boundary. Single uppercase initials ("J.") are handled separately.
var abbreviations = map[string]struct{}{
	"Mr.": {}, "Mrs.": {}, "Ms.": {}, "Dr.": {}, "Prof.": {},
	"Sr.": {}, "Jr.": {}, "St.": {},
	"etc.": {}, "e.g.": {}, "i.e.": {}, "vs.": {}, "cf.": {},
	"Jan.": {}, "Feb.": {}, "Mar.": {}, "Apr.": {}, "Jun.": {},
	"Jul.": {}, "Aug.": {}, "Sep.": {}, "Sept.": {}, "Oct.": {},
	"Nov.": {}, "Dec.": {},
}

// TextDecomposer splits message content into blocks and statements as
// pointer-stable spans. It is stateless and deterministic: the same input
// always yields the same spans.
type TextDecomposer struct{}

// NewTextDecomposer creates a new decomposer.
func NewTextDecomposer() *TextDecomposer {
	return &TextDecomposer{}
}

// Decompose breaks content into blocks, and each block into statements.
// Fenced code regions (``` or ~~~ at a line start) become CODE blocks whose
// content excludes the fence lines; everything between fences is split into
// paragraph/list blocks on blank lines.
func (d *TextDecomposer) Decompose(content string) Decomposition {
	dec := Decomposition{Source: content}

	textStart := 0
	pos := 0
	for pos < len(content) && len(dec.Blocks) < MaxBlocksPerMessage {
		lineEnd := lineEndAt(content, pos)
		fence, ok := fenceAt(content, pos)
		if !ok {
			pos = lineEnd
			continue
		}

		// Flush the plain-text region preceding the fence.
		if pos > textStart {
			dec.Blocks = appendCapped(dec.Blocks, textBlocks(content, textStart, pos)...)
			if len(dec.Blocks) >= MaxBlocksPerMessage {
				return dec
			}
		}

		openEnd := lineEnd
		if openEnd > pos && content[openEnd-1] == '\n' {
			openEnd--
		}
		lang := languageTag(content[pos+3 : openEnd])
		bodyStart := lineEnd
		bodyEnd, afterClose := findClosingFence(content, bodyStart, fence.char)

		block := BlockSpan{Start: bodyStart, End: bodyEnd, Type: BlockCode, Language: lang}
		block.Statements = codeStatements(content, bodyStart, bodyEnd)
		dec.Blocks = appendCapped(dec.Blocks, block)

		pos = afterClose
		textStart = afterClose
	}

	if textStart < len(content) && len(dec.Blocks) < MaxBlocksPerMessage {
		dec.Blocks = appendCapped(dec.Blocks, textBlocks(content, textStart, len(content))...)
	}

	return dec
}

type fenceInfo struct {
	char byte // '`' or '~'
}

// fenceAt reports whether a fence (three backticks or three tildes) opens at
// a line start at pos.
func fenceAt(content string, pos int) (fenceInfo, bool) {
	if pos+3 > len(content) {
		return fenceInfo{}, false
	}
	c := content[pos]
	if c != '`' && c != '~' {
		return fenceInfo{}, false
	}
	if content[pos+1] != c || content[pos+2] != c {
		return fenceInfo{}, false
	}
	return fenceInfo{char: c}, true
}

// languageTag extracts and bounds the language tag from the remainder of an
// opening fence line.
func languageTag(rest string) string {
	rest = strings.TrimRight(rest, "\n")
	rest = strings.TrimSpace(rest)
	if len(rest) > MaxLanguageTagLen {
		rest = rest[:MaxLanguageTagLen]
	}
	return rest
}

// findClosingFence scans line starts from pos for a closing fence of the
// same character. Returns the end of the code body (exclusive of the closing
// fence line) and the position just past the closing fence line. An unclosed
// fence consumes the rest of the buffer.
func findClosingFence(content string, pos int, fenceChar byte) (bodyEnd, afterClose int) {
	for pos < len(content) {
		lineEnd := lineEndAt(content, pos)
		if f, ok := fenceAt(content, pos); ok && f.char == fenceChar {
			return pos, lineEnd
		}
		pos = lineEnd
	}
	return len(content), len(content)
}

// lineEndAt returns the offset just past the line containing pos (past the
// newline, or end of buffer).
func lineEndAt(content string, pos int) int {
	for pos < len(content) {
		if content[pos] == '\n' {
			return pos + 1
		}
		pos++
	}
	return pos
}

func appendCapped(blocks []BlockSpan, more ...BlockSpan) []BlockSpan {
	for _, b := range more {
		if len(blocks) >= MaxBlocksPerMessage {
			break
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// textBlocks splits content[start:end] into paragraph/list blocks, offsets
// relative to the full content string.
func textBlocks(content string, start, end int) []BlockSpan {
	var blocks []BlockSpan
	segment := content[start:end]

	for _, para := range paragraphSpans(segment) {
		paraStart, paraEnd := trimSpan(segment, para[0], para[1])
		if paraStart >= paraEnd {
			continue
		}
		absStart, absEnd := start+paraStart, start+paraEnd

		if isListBlock(content[absStart:absEnd]) {
			block := BlockSpan{Start: absStart, End: absEnd, Type: BlockList}
			block.Statements = listStatements(content, absStart, absEnd)
			blocks = append(blocks, block)
		} else {
			block := BlockSpan{Start: absStart, End: absEnd, Type: BlockParagraph}
			block.Statements = textStatements(content, absStart, absEnd)
			blocks = append(blocks, block)
		}
	}

	return blocks
}

// paragraphSpans returns [start,end) byte ranges of text split on blank
// (empty or whitespace-only) lines.
func paragraphSpans(text string) [][2]int {
	var spans [][2]int
	last := 0
	pos := 0
	for pos < len(text) {
		lineEnd := lineEndAt(text, pos)
		if isBlankLine(text[pos:lineEnd]) && pos > last {
			spans = append(spans, [2]int{last, pos})
			last = lineEnd
		}
		pos = lineEnd
	}
	spans = append(spans, [2]int{last, len(text)})
	return spans
}

func isBlankLine(line string) bool {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}

func trimSpan(s string, start, end int) (int, int) {
	for start < end && isTrimmable(s[start]) {
		start++
	}
	for end > start && isTrimmable(s[end-1]) {
		end--
	}
	return start, end
}

func isTrimmable(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// isListBlock reports whether most non-empty lines in text look like list items.
func isListBlock(text string) bool {
	lines := strings.Split(text, "\n")
	nonEmpty, markers := 0, 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		if listItemPrefix.MatchString(trimmed) {
			markers++
		}
	}
	return markers > 0 && markers >= nonEmpty/2+nonEmpty%2
}

// textStatements splits content[start:end] into sentence spans. A sentence
// ends on '.', '!' or '?' that is followed by whitespace or end-of-buffer
// and leads into an uppercase letter or opening quote/paren, unless the
// period closes a known abbreviation or a single-letter initial. Trailing
// closing quotes/parens belong to the sentence they close.
func textStatements(content string, start, end int) []StatementSpan {
	segment := content[start:end]
	trimStart, trimEnd := trimSpan(segment, 0, len(segment))
	if trimStart >= trimEnd {
		return nil
	}

	var statements []StatementSpan
	cursor := trimStart
	pos := trimStart
	for pos < trimEnd && len(statements) < MaxStatementsPerBlock {
		boundary, next := sentenceBoundaryAt(segment, pos, trimEnd)
		if boundary < 0 {
			pos++
			continue
		}
		sStart, sEnd := trimSpan(segment, cursor, boundary)
		if sStart < sEnd {
			statements = append(statements, StatementSpan{Start: start + sStart, End: start + sEnd, Type: StatementSentence})
		}
		cursor = next
		pos = next
	}

	if cursor < trimEnd && len(statements) < MaxStatementsPerBlock {
		sStart, sEnd := trimSpan(segment, cursor, trimEnd)
		if sStart < sEnd {
			statements = append(statements, StatementSpan{Start: start + sStart, End: start + sEnd, Type: StatementSentence})
		}
	}

	if len(statements) == 0 {
		statements = append(statements, StatementSpan{Start: start + trimStart, End: start + trimEnd, Type: StatementSentence})
	}

	return statements
}

// sentenceBoundaryAt checks whether a sentence boundary sits at pos.
// It returns the boundary's end offset (exclusive, including any trailing
// closing quote/paren) and the offset of the next sentence's first byte, or
// (-1, 0) if pos is not a boundary.
func sentenceBoundaryAt(segment string, pos, limit int) (boundary, next int) {
	c := segment[pos]
	if c != '.' && c != '!' && c != '?' {
		return -1, 0
	}

	j := pos
	for j < limit && (segment[j] == '.' || segment[j] == '!' || segment[j] == '?') {
		j++
	}
	for j < limit && isClosingMark(segment[j]) {
		j++
	}

	// Must be followed by whitespace or end of buffer.
	if j < limit && !isTrimmable(segment[j]) {
		return -1, 0
	}

	if c == '.' && isAbbreviation(segment, pos) {
		return -1, 0
	}

	k := j
	for k < limit && isTrimmable(segment[k]) {
		k++
	}
	if k >= limit {
		return j, limit
	}

	// The next sentence must open with an uppercase letter or quote/paren.
	n := segment[k]
	if (n >= 'A' && n <= 'Z') || isOpeningMark(n) {
		return j, k
	}
	return -1, 0
}

func isClosingMark(b byte) bool {
	return b == '"' || b == '\'' || b == ')' || b == ']'
}

func isOpeningMark(b byte) bool {
	return b == '"' || b == '\'' || b == '(' || b == '['
}

// isAbbreviation reports whether the period at pos closes a known
// abbreviation or a single-letter initial.
func isAbbreviation(segment string, pos int) bool {
	wstart := pos
	for wstart > 0 && isWordByte(segment[wstart-1]) {
		wstart--
	}
	word := segment[wstart : pos+1]

	if _, ok := abbreviations[word]; ok {
		return true
	}
	// Single uppercase initial ("J.").
	if len(word) == 2 && word[0] >= 'A' && word[0] <= 'Z' {
		return true
	}
	return false
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '.'
}

// codeStatements splits content[start:end] into line spans, one statement
// per non-empty line.
func codeStatements(content string, start, end int) []StatementSpan {
	segment := content[start:end]
	var statements []StatementSpan
	lineStart := 0
	for i := 0; i <= len(segment); i++ {
		if i == len(segment) || segment[i] == '\n' {
			s, e := trimSpan(segment, lineStart, i)
			if s < e {
				if len(statements) >= MaxStatementsPerBlock {
					break
				}
				statements = append(statements, StatementSpan{Start: start + s, End: start + e, Type: StatementCodeLine})
			}
			lineStart = i + 1
		}
	}
	return statements
}

// listStatements splits content[start:end] into list-item spans, folding
// continuation lines into the preceding item.
func listStatements(content string, start, end int) []StatementSpan {
	segment := content[start:end]
	lines := splitLineSpans(segment)

	var statements []StatementSpan
	itemStart, itemEnd := -1, -1

	flush := func() {
		if itemStart == -1 {
			return
		}
		s, e := trimSpan(segment, itemStart, itemEnd)
		if s < e && len(statements) < MaxStatementsPerBlock {
			statements = append(statements, StatementSpan{Start: start + s, End: start + e, Type: StatementListItem})
		}
		itemStart, itemEnd = -1, -1
	}

	for _, ln := range lines {
		trimmed := strings.TrimSpace(segment[ln[0]:ln[1]])
		if trimmed == "" {
			continue
		}
		if listItemPrefix.MatchString(trimmed) {
			flush()
			itemStart, itemEnd = ln[0], ln[1]
		} else if itemStart != -1 {
			itemEnd = ln[1]
		} else {
			itemStart, itemEnd = ln[0], ln[1]
		}
	}
	flush()

	return statements
}

func splitLineSpans(s string) [][2]int {
	var spans [][2]int
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			spans = append(spans, [2]int{start, i})
			start = i + 1
		}
	}
	spans = append(spans, [2]int{start, len(s)})
	return spans
}
