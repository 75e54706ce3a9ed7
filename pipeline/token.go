package pipeline

import (
	"regexp"
	"strings"
)

const (
	OutputPlaceholder      = "{output}"
	LegacyInputPlaceholder = "{input}"
)

var (
	inputPattern = regexp.MustCompile(`(?i)\{input:([a-z0-9-]+)\}`)
	inputExact   = regexp.MustCompile(`(?i)^\{input:([a-z0-9-]+)\}$`)
)

type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenOutput
	TokenInput
	TokenLegacyInput
)

// Token is one argument of a step, classified. Only an argument that
// is exactly a placeholder becomes a placeholder token; anything else
// is a literal and is passed to the tool as written.
type Token struct {
	Kind TokenKind
	Text string
	// reference id, only for TokenInput
	ID string
}

func (t Token) IsPlaceholder() bool {
	return t.Kind != TokenLiteral
}

// References returns the ids of all {input:<id>} occurrences in the
// token text, including ones embedded inside a literal.
func (t Token) References() []string {
	if t.Kind == TokenInput {
		return []string{t.ID}
	}

	var ids []string
	for _, m := range inputPattern.FindAllStringSubmatch(t.Text, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

func ParseToken(arg string) Token {
	switch arg {
	case OutputPlaceholder:
		return Token{Kind: TokenOutput, Text: arg}
	case LegacyInputPlaceholder:
		return Token{Kind: TokenLegacyInput, Text: arg}
	}

	if m := inputExact.FindStringSubmatch(arg); m != nil {
		return Token{Kind: TokenInput, Text: arg, ID: m[1]}
	}

	return Token{Kind: TokenLiteral, Text: arg}
}

func Tokenize(args []string) []Token {
	tokens := make([]Token, len(args))
	for i, arg := range args {
		tokens[i] = ParseToken(arg)
	}
	return tokens
}

// scan summarises the placeholder usage of a step's joined argument text.
type scan struct {
	outputs    int
	legacy     bool
	references []string
}

func scanArgs(tokens []Token) scan {
	texts := make([]string, len(tokens))
	var s scan
	for i, t := range tokens {
		texts[i] = t.Text
		s.references = append(s.references, t.References()...)
	}

	joined := strings.Join(texts, " ")
	s.outputs = strings.Count(joined, OutputPlaceholder)
	s.legacy = strings.Contains(joined, LegacyInputPlaceholder)
	return s
}
