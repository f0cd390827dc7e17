package schema

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Parse reads the schema grammar described in spec §6:
//
//	NAME ( FIELDS , TIME_IDX , TIME_SPAN ) { (NAME : [KIND, ACTION(, CONST)?] ;)* } AGGREGATION?
//	AGGREGATION = ( KEYS , TIME_FIELD , INTERVAL ) [ TERM, ... ]?
//
// KEYS accepts either a bare name or a bracketed list, since the data
// model (§3) defines Aggregation.Keys as a list while the reference
// grammar only ever showed a single key; both forms parse to the same
// []string.
//
// Whitespace and C-style /* */ comments are skippable anywhere between
// tokens, matching the reference Skipper grammar.
func Parse(source string) (*Schema, error) {
	p := &parser{toks: tokenize(source)}
	s, err := p.parseSchema()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, errors.Errorf("unexpected trailing input near %q", p.remainder())
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokPunct
	tokEOF
)

type token struct {
	kind tokKind
	text string
}

func tokenize(source string) []token {
	var toks []token
	r := []rune(source)
	i := 0
	n := len(r)
	for i < n {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '/' && i+1 < n && r[i+1] == '*':
			i += 2
			for i+1 < n && !(r[i] == '*' && r[i+1] == '/') {
				i++
			}
			i += 2
		case c == '"':
			var sb strings.Builder
			i++
			for i < n && r[i] != '"' {
				if r[i] == '\\' && i+1 < n && r[i+1] == '"' {
					sb.WriteRune('"')
					i += 2
					continue
				}
				sb.WriteRune(r[i])
				i++
			}
			i++ // closing quote
			toks = append(toks, token{tokIdent, sb.String()})
		case strings.ContainsRune("(){}[]:;,", c):
			toks = append(toks, token{tokPunct, string(c)})
			i++
		case c == '-' || unicode.IsDigit(c) || unicode.IsLetter(c) || c == '_' || c == '.':
			start := i
			i++
			for i < n && (unicode.IsLetter(r[i]) || unicode.IsDigit(r[i]) || r[i] == '_' || r[i] == '.' || r[i] == '-') {
				i++
			}
			toks = append(toks, token{tokIdent, string(r[start:i])})
		default:
			i++ // skip unrecognized byte rather than fail the whole schema
		}
	}
	return toks
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.atEnd() {
		return token{tokEOF, ""}
	}
	return p.toks[p.pos]
}

func (p *parser) remainder() string {
	var parts []string
	for _, t := range p.toks[p.pos:] {
		parts = append(parts, t.text)
	}
	return strings.Join(parts, " ")
}

func (p *parser) next() token {
	t := p.peek()
	if !p.atEnd() {
		p.pos++
	}
	return t
}

func (p *parser) expectPunct(text string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != text {
		return errors.Errorf("expected %q, got %q", text, t.text)
	}
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.next()
	if t.kind != tokIdent {
		return "", errors.Errorf("expected identifier, got %q", t.text)
	}
	return t.text, nil
}

func (p *parser) expectInt() (int, error) {
	t, err := p.expectIdent()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(t)
	if err != nil {
		return 0, errors.Wrapf(err, "expected integer, got %q", t)
	}
	return v, nil
}

func (p *parser) parseSchema() (*Schema, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, errors.Wrap(err, "schema name")
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	fieldNumber, err := p.expectInt()
	if err != nil {
		return nil, errors.Wrap(err, "field_number")
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	timeIndex, err := p.expectInt()
	if err != nil {
		return nil, errors.Wrap(err, "time_index")
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	timeSpan, err := p.expectInt()
	if err != nil {
		return nil, errors.Wrap(err, "time_span")
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	attrs, err := p.parseAttributes()
	if err != nil {
		return nil, err
	}

	s := &Schema{
		Name:        name,
		FieldNumber: fieldNumber,
		TimeIndex:   timeIndex,
		TimeSpan:    timeSpan,
		Attributes:  attrs,
	}

	if p.peek().kind == tokPunct && p.peek().text == "(" {
		agg, err := p.parseAggregation()
		if err != nil {
			return nil, err
		}
		s.Aggregation = agg
	}

	return s, nil
}

func (p *parser) parseAttributes() ([]Attribute, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var attrs []Attribute
	for {
		if p.peek().kind == tokPunct && p.peek().text == "}" {
			p.next()
			return attrs, nil
		}
		attr, err := p.parseAttribute()
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
}

func (p *parser) parseAttribute() (Attribute, error) {
	name, err := p.expectIdent()
	if err != nil {
		return Attribute{}, errors.Wrap(err, "attribute name")
	}
	if err := p.expectPunct(":"); err != nil {
		return Attribute{}, err
	}
	if err := p.expectPunct("["); err != nil {
		return Attribute{}, err
	}
	kindName, err := p.expectIdent()
	if err != nil {
		return Attribute{}, errors.Wrap(err, "attribute kind")
	}
	kind, ok := ParseKind(kindName)
	if !ok {
		return Attribute{}, errors.Errorf("unknown attribute kind %q for %q", kindName, name)
	}
	if err := p.expectPunct(","); err != nil {
		return Attribute{}, err
	}
	actionName, err := p.expectIdent()
	if err != nil {
		return Attribute{}, errors.Wrap(err, "attribute action")
	}
	action, ok := ParseAction(actionName)
	if !ok {
		return Attribute{}, errors.Errorf("unknown attribute action %q for %q", actionName, name)
	}

	var constVal string
	if p.peek().kind == tokPunct && p.peek().text == "," {
		p.next()
		constVal, err = p.expectIdent()
		if err != nil {
			return Attribute{}, errors.Wrap(err, "attribute constant")
		}
	}
	if action == ActionAdd && constVal == "" {
		return Attribute{}, errors.Errorf("attribute %q: ADD requires a constant value", name)
	}

	if err := p.expectPunct("]"); err != nil {
		return Attribute{}, err
	}
	if err := p.expectPunct(";"); err != nil {
		return Attribute{}, err
	}

	return Attribute{Name: name, Kind: kind, Action: action, Const: constVal}, nil
}

func (p *parser) parseNameList() ([]string, error) {
	bracketed := p.peek().kind == tokPunct && p.peek().text == "["
	if bracketed {
		p.next()
	}
	var names []string
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if bracketed && p.peek().kind == tokPunct && p.peek().text == "," {
			p.next()
			continue
		}
		break
	}
	if bracketed {
		if err := p.expectPunct("]"); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (p *parser) parseAggregation() (*Aggregation, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	keys, err := p.parseNameList()
	if err != nil {
		return nil, errors.Wrap(err, "aggregation keys")
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	timeField, err := p.expectIdent()
	if err != nil {
		return nil, errors.Wrap(err, "aggregation time field")
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	interval, err := p.expectInt()
	if err != nil {
		return nil, errors.Wrap(err, "aggregation interval")
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	agg := &Aggregation{Keys: keys, Time: timeField, Interval: interval}

	if p.peek().kind == tokPunct && p.peek().text == "[" {
		terms, err := p.parseNameList()
		if err != nil {
			return nil, errors.Wrap(err, "aggregation terms")
		}
		agg.Terms = terms
	}

	return agg, nil
}
