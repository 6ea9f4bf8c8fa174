package query

import (
	"fmt"
	"strings"

	"github.com/coreutil/factdb/pkg/fact"
)

// Parser parses query text into a Query AST.
type Parser struct {
	lex *Lexer
}

// NewParser creates a Parser over the given input.
func NewParser(input string) *Parser {
	return &Parser{lex: NewLexer(input)}
}

// Parse parses a complete query.
func (p *Parser) Parse() (*Query, error) {
	p.lex.skipSpace()
	if p.lex.eof() {
		return nil, fmt.Errorf("empty query")
	}

	switch {
	case p.lex.tryKeyword("HINTS"):
		return p.parseHints()
	case p.lex.tryKeyword("CHANGESETS"):
		return p.finish(&Query{Action: ActionChangesets})
	case p.lex.tryKeyword("REPLICATE"):
		return p.finish(&Query{Action: ActionReplicate})
	case p.lex.tryKeyword("HISTORY"):
		return p.finish(&Query{Action: ActionHistory})
	case p.lex.atRune('@'):
		return p.parseMatchAction()
	default:
		return p.parseLeadingOrBare()
	}
}

// finish verifies there is no unconsumed trailing input.
func (p *Parser) finish(q *Query) (*Query, error) {
	p.lex.skipSpace()
	if !p.lex.eof() {
		return nil, fmt.Errorf("unexpected trailing input at position %d", p.lex.Pos())
	}
	return q, nil
}

// parseMatchAction handles the "@id [ARCHIVE|SET|DEL|HISTORY]" family and
// bare "@id" (get).
func (p *Parser) parseMatchAction() (*Query, error) {
	idFact, err := p.parseID()
	if err != nil {
		return nil, err
	}
	p.lex.skipSpace()

	switch {
	case p.lex.tryKeyword("ARCHIVE"):
		return p.finish(&Query{Action: ActionArchive, Facts: []fact.Fact{idFact}})
	case p.lex.tryKeyword("HISTORY"):
		return p.finish(&Query{Action: ActionHistory, Facts: []fact.Fact{idFact}})
	case p.lex.tryKeyword("SET"):
		return p.parseSet(idFact)
	case p.lex.tryKeyword("DEL"):
		return p.parseDel(idFact)
	case p.lex.eof():
		return &Query{Action: ActionGet, Facts: []fact.Fact{idFact}}, nil
	default:
		return nil, fmt.Errorf("unexpected input at position %d (expected ARCHIVE, SET, DEL or HISTORY after @ref)", p.lex.Pos())
	}
}

// parseSet implements "match SET content" and "match SET data+".
func (p *Parser) parseSet(idFact fact.Fact) (*Query, error) {
	p.lex.skipSpace()
	if p.lex.atRune('#') {
		data, err := p.parseDataPlus()
		if err != nil {
			return nil, err
		}
		return p.finish(&Query{Action: ActionSet, Facts: append([]fact.Fact{idFact}, data...)})
	}
	content, err := p.parseContent()
	if err != nil {
		return nil, err
	}
	return p.finish(&Query{Action: ActionSet, Facts: []fact.Fact{idFact, fact.Content(content)}})
}

// parseDel implements "match DEL data+".
func (p *Parser) parseDel(idFact fact.Fact) (*Query, error) {
	data, err := p.parseDataPlus()
	if err != nil {
		return nil, err
	}
	return p.finish(&Query{Action: ActionDel, Facts: append([]fact.Fact{idFact}, data...)})
}

// parseLeadingOrBare handles every production that doesn't start with @ or
// a bare top-level keyword: "prop* CREATE data+", "prop* CREATE content
// data*", bare "data+" (list), and bare "content data*" (list).
func (p *Parser) parseLeadingOrBare() (*Query, error) {
	var leading []fact.Fact
	for {
		p.lex.skipSpace()
		if p.lex.tryKeyword("CREATE") {
			return p.parseCreate(leading)
		}
		if p.lex.eof() {
			if len(leading) == 0 {
				return nil, fmt.Errorf("empty query")
			}
			return &Query{Action: ActionList, Facts: leading}, nil
		}
		if !p.lex.atRune('#') {
			if len(leading) != 0 {
				return nil, fmt.Errorf("unexpected free text at position %d after fact literals with no CREATE", p.lex.Pos())
			}
			return p.parseBareContent()
		}
		f, err := p.parseDataFact()
		if err != nil {
			return nil, err
		}
		leading = append(leading, f)
	}
}

// parseBareContent implements the bare "content data*" production (list
// by content substring, optionally combined with tag/flag/value filters).
func (p *Parser) parseBareContent() (*Query, error) {
	content, err := p.parseContent()
	if err != nil {
		return nil, err
	}
	facts := []fact.Fact{fact.Content(content)}
	data, err := p.parseDataStar()
	if err != nil {
		return nil, err
	}
	return p.finish(&Query{Action: ActionList, Facts: append(facts, data...)})
}

// parseCreate implements "prop* CREATE data+" and "prop* CREATE content
// data*"; leading holds the props collected before CREATE.
func (p *Parser) parseCreate(leading []fact.Fact) (*Query, error) {
	p.lex.skipSpace()
	if p.lex.eof() {
		return nil, fmt.Errorf("missing data: CREATE requires content or at least one fact")
	}
	if p.lex.atRune('#') {
		data, err := p.parseDataPlus()
		if err != nil {
			return nil, err
		}
		return p.finish(&Query{Action: ActionCreate, Facts: append(leading, data...)})
	}
	content, err := p.parseContent()
	if err != nil {
		return nil, err
	}
	data, err := p.parseDataStar()
	if err != nil {
		return nil, err
	}
	facts := append(append([]fact.Fact{}, leading...), fact.Content(content))
	facts = append(facts, data...)
	return p.finish(&Query{Action: ActionCreate, Facts: facts})
}

// parseHints implements "HINTS prop?", accepting the tag/prop prefix with
// or without its leading "#", and preserving a trailing "/".
func (p *Parser) parseHints() (*Query, error) {
	p.lex.skipSpace()
	if p.lex.eof() {
		return &Query{Action: ActionHints}, nil
	}
	if p.lex.atRune('#') {
		p.lex.next() // consume optional leading '#'
	}

	var sb strings.Builder
	for !p.lex.eof() && p.lex.peek() != '/' && !isSpaceRune(p.lex.peek()) {
		sb.WriteRune(p.lex.next())
	}
	tagPart := sb.String()
	if tagPart == "" {
		return nil, fmt.Errorf("expected tag name at position %d", p.lex.Pos())
	}

	prefix := "#" + tagPart
	if p.lex.peek() == '/' {
		p.lex.next()
		var pb strings.Builder
		for !p.lex.eof() && !isSpaceRune(p.lex.peek()) {
			pb.WriteRune(p.lex.next())
		}
		prefix += "/" + pb.String()
	}
	return p.finish(&Query{Action: ActionHints, HintsPrefix: prefix})
}

// parseID parses "@" HEXID into a ref Fact.
func (p *Parser) parseID() (fact.Fact, error) {
	if p.lex.next() != '@' {
		return fact.Fact{}, fmt.Errorf("expected '@' at position %d", p.lex.Pos())
	}
	hex, err := p.lex.readHex()
	if err != nil {
		return fact.Fact{}, err
	}
	return fact.Ref(hex), nil
}

// parseDataFact parses a single "#tag", "#tag/prop" or "#tag/prop=value".
func (p *Parser) parseDataFact() (fact.Fact, error) {
	if p.lex.next() != '#' {
		return fact.Fact{}, fmt.Errorf("expected '#' at position %d", p.lex.Pos())
	}
	tag, err := p.lex.readTag()
	if err != nil {
		return fact.Fact{}, err
	}
	if p.lex.peek() != '/' {
		return fact.Tag(tag), nil
	}
	p.lex.next() // consume '/'
	prop, err := p.lex.readProp()
	if err != nil {
		return fact.Fact{}, err
	}
	if p.lex.peek() != '=' {
		return fact.Flag(tag, prop), nil
	}
	p.lex.next() // consume '='
	value, err := p.parseValueLiteral()
	if err != nil {
		return fact.Fact{}, err
	}
	return fact.Value(tag, prop, value), nil
}

// parseValueLiteral parses the right-hand side of "=": a bareword or a
// [[[ ... ]]] quoted block.
func (p *Parser) parseValueLiteral() (string, error) {
	if p.lex.consumeQuoteOpen() {
		return p.lex.readQuoted()
	}
	v := p.lex.readBareword()
	if v == "" {
		return "", fmt.Errorf("expected value at position %d", p.lex.Pos())
	}
	return v, nil
}

// parseContent parses the content nonterminal: a [[[ ... ]]] block or
// simpletext running to the next '#' or newline.
func (p *Parser) parseContent() (string, error) {
	if p.lex.consumeQuoteOpen() {
		return p.lex.readQuoted()
	}
	text := p.lex.readSimpletext()
	if text == "" {
		return "", fmt.Errorf("expected content at position %d", p.lex.Pos())
	}
	return text, nil
}

// parseDataPlus parses one or more data facts, requiring at least one.
func (p *Parser) parseDataPlus() ([]fact.Fact, error) {
	data, err := p.parseDataStar()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("expected at least one #tag/prop=value fact at position %d", p.lex.Pos())
	}
	return data, nil
}

// parseDataStar parses zero or more data facts separated by whitespace.
func (p *Parser) parseDataStar() ([]fact.Fact, error) {
	var out []fact.Fact
	for {
		p.lex.skipSpace()
		if !p.lex.atRune('#') {
			return out, nil
		}
		f, err := p.parseDataFact()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
}

func isSpaceRune(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}

// Parse is a convenience function equivalent to NewParser(input).Parse().
func Parse(input string) (*Query, error) {
	return NewParser(input).Parse()
}
