package session

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// maxExtractedKeywords bounds how many keywords a single extraction yields.
const maxExtractedKeywords = 20

// minKeywordLen filters out short noise words before frequency counting.
const minKeywordLen = 3

// Extractor pulls session metadata out of message content: frequent
// keywords, programming identifiers (camelCase / snake_case), and file
// paths. The session manager accumulates these onto the session record so
// sessions stay findable without a full-text query.
type Extractor struct {
	stopWords map[string]struct{}
	pathRe    *regexp.Regexp
	identRe   *regexp.Regexp
}

// NewExtractor creates an extractor with the built-in stop-word list.
func NewExtractor() *Extractor {
	return &Extractor{
		stopWords: stopWordSet(),
		pathRe: regexp.MustCompile(
			`(?:^|[\s"'\(])(/[^\s"'\)]+|[a-zA-Z]:\\[^\s"'\)]+|\.{1,2}/[^\s"'\)]+)`,
		),
		identRe: regexp.MustCompile(
			`\b([a-z][a-zA-Z0-9]*[A-Z][a-zA-Z0-9]*|[a-z]+_[a-z_0-9]+|[A-Z][a-z]+[A-Z][a-zA-Z0-9]*)\b`,
		),
	}
}

var stopWordList = strings.Fields(`
	the a an is are was were be been being have has had do does did will
	would could should may might must shall can need to of in for on with
	at by from as into through during before after above below between
	under again further then once here there when where why how all each
	few more most other some such no nor not only own same so than too
	very just and but if or because until while this that these those it
	its
	func function def class struct interface type var let const static
	public private protected return else elif switch case default break
	continue try catch except finally throw throws import export package
	module require include using namespace new delete nil null none true
	false void int string bool float double char byte long short async
	await yield lambda self super
`)

func stopWordSet() map[string]struct{} {
	set := make(map[string]struct{}, len(stopWordList))
	for _, w := range stopWordList {
		set[w] = struct{}{}
	}
	return set
}

// Extract returns the keywords, identifiers, and file paths found in content.
func (e *Extractor) Extract(content string) (keywords, identifiers, files []string) {
	return e.extractKeywords(content), e.extractIdentifiers(content), e.extractFilePaths(content)
}

func (e *Extractor) extractFilePaths(content string) []string {
	var files []string
	seen := make(map[string]struct{})
	for _, match := range e.pathRe.FindAllStringSubmatch(content, -1) {
		if len(match) < 2 {
			continue
		}
		path := strings.TrimSpace(match[1])
		if !looksLikePath(path) {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}
	return files
}

// looksLikePath filters regex matches down to strings that plausibly name a
// file: they need a separator plus either an extension or a recognizable
// source-tree directory.
func looksLikePath(s string) bool {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "\\"
		if !strings.Contains(s, sep) {
			return false
		}
	}
	parts := strings.Split(s, sep)
	if strings.Contains(parts[len(parts)-1], ".") {
		return true
	}
	lower := strings.ToLower(s)
	for _, dir := range []string{"src", "lib", "bin", "pkg", "cmd", "internal", "test", "tests", "docs"} {
		if strings.Contains(lower, dir) {
			return true
		}
	}
	return len(s) > 3 && len(parts) > 1
}

func (e *Extractor) extractIdentifiers(content string) []string {
	var identifiers []string
	seen := make(map[string]struct{})
	for _, match := range e.identRe.FindAllString(content, -1) {
		if len(match) < 4 {
			continue
		}
		if _, stop := e.stopWords[strings.ToLower(match)]; stop {
			continue
		}
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		identifiers = append(identifiers, match)
	}
	return identifiers
}

func (e *Extractor) extractKeywords(content string) []string {
	freq := make(map[string]int)
	for _, word := range splitWords(content) {
		if len(word) < minKeywordLen {
			continue
		}
		lower := strings.ToLower(word)
		if _, stop := e.stopWords[lower]; stop {
			continue
		}
		freq[lower]++
	}

	ranked := make([]string, 0, len(freq))
	for w := range freq {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if freq[ranked[i]] != freq[ranked[j]] {
			return freq[ranked[i]] > freq[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	if len(ranked) > maxExtractedKeywords {
		ranked = ranked[:maxExtractedKeywords]
	}
	return ranked
}

// splitWords tokenizes on non-alphanumeric runes.
func splitWords(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
