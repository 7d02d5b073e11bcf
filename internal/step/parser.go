// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package step

import (
	"fmt"
	"io"
	"os"
	"strconv"
)

const (
	magicStart = "ISO-10303-21"
	magicEnd   = "END-ISO-10303-21"
)

// ParseFile reads and parses the exchange structure at path.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads an exchange structure from r.
func Parse(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading exchange structure: %w", err)
	}
	p := &parser{lex: newLexer(string(data))}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.file()
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Line: p.tok.line, Col: p.tok.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.tok
	if t.kind != kind {
		return t, p.errorf("expected %s, found %s", kind, describe(t))
	}
	return t, p.advance()
}

func (p *parser) expectKeyword(word string) error {
	if p.tok.kind != tokKeyword || p.tok.text != word {
		return p.errorf("expected %s, found %s", word, describe(p.tok))
	}
	return p.advance()
}

func describe(t token) string {
	if t.text == "" {
		return t.kind.String()
	}
	return fmt.Sprintf("%s %q", t.kind, t.text)
}

func (p *parser) file() (*File, error) {
	if p.tok.kind != tokKeyword || p.tok.text != magicStart {
		return nil, p.errorf("not an ISO-10303-21 exchange structure")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokSemicolon); err != nil {
		return nil, err
	}

	f := &File{instances: make(map[int]*Instance)}
	if err := p.header(&f.Header); err != nil {
		return nil, err
	}

	sections := 0
	for p.tok.kind == tokKeyword && p.tok.text == "DATA" {
		if err := p.data(f); err != nil {
			return nil, err
		}
		sections++
	}
	if sections == 0 {
		return nil, p.errorf("missing DATA section")
	}

	if err := p.expectKeyword(magicEnd); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokSemicolon); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *parser) header(h *Header) error {
	if err := p.expectKeyword("HEADER"); err != nil {
		return err
	}
	if _, err := p.expect(tokSemicolon); err != nil {
		return err
	}
	for !(p.tok.kind == tokKeyword && p.tok.text == "ENDSEC") {
		rec, err := p.record()
		if err != nil {
			return err
		}
		if _, err := p.expect(tokSemicolon); err != nil {
			return err
		}
		h.Records = append(h.Records, rec)
	}
	if err := p.advance(); err != nil {
		return err
	}
	_, err := p.expect(tokSemicolon)
	return err
}

func (p *parser) data(f *File) error {
	if err := p.advance(); err != nil {
		return err
	}
	// Edition 3 allows DATA('name', ('schema'));
	if p.tok.kind == tokLParen {
		if _, err := p.list(); err != nil {
			return err
		}
	}
	if _, err := p.expect(tokSemicolon); err != nil {
		return err
	}

	for p.tok.kind == tokInstance {
		inst, err := p.instance()
		if err != nil {
			return err
		}
		if _, dup := f.instances[inst.ID]; dup {
			return p.errorf("duplicate instance #%d", inst.ID)
		}
		f.instances[inst.ID] = inst
	}

	if err := p.expectKeyword("ENDSEC"); err != nil {
		return err
	}
	_, err := p.expect(tokSemicolon)
	return err
}

func (p *parser) instance() (*Instance, error) {
	idTok := p.tok
	id, err := strconv.Atoi(idTok.text)
	if err != nil {
		return nil, p.errorf("bad instance name #%s", idTok.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokEquals); err != nil {
		return nil, err
	}

	inst := &Instance{ID: id}
	if p.tok.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for p.tok.kind == tokKeyword {
			rec, err := p.record()
			if err != nil {
				return nil, err
			}
			inst.Records = append(inst.Records, rec)
		}
		if len(inst.Records) == 0 {
			return nil, p.errorf("empty complex instance #%d", id)
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
	} else {
		rec, err := p.record()
		if err != nil {
			return nil, err
		}
		inst.Records = []Record{rec}
	}

	if _, err := p.expect(tokSemicolon); err != nil {
		return nil, err
	}
	return inst, nil
}

func (p *parser) record() (Record, error) {
	nameTok, err := p.expect(tokKeyword)
	if err != nil {
		return Record{}, err
	}
	params, err := p.list()
	if err != nil {
		return Record{}, err
	}
	return Record{Name: nameTok.text, Params: params}, nil
}

// list parses "(" [param {"," param}] ")".
func (p *parser) list() ([]Param, error) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	params := []Param{}
	if p.tok.kind == tokRParen {
		return params, p.advance()
	}
	for {
		param, err := p.param()
		if err != nil {
			return nil, err
		}
		params = append(params, param)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return params, nil
	}
}

func (p *parser) param() (Param, error) {
	t := p.tok
	switch t.kind {
	case tokDollar:
		return Param{Kind: KindNull}, p.advance()
	case tokStar:
		return Param{Kind: KindDerived}, p.advance()
	case tokInteger:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return Param{}, p.errorf("bad integer %q", t.text)
		}
		return Param{Kind: KindInteger, Int: v}, p.advance()
	case tokReal:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Param{}, p.errorf("bad real %q", t.text)
		}
		return Param{Kind: KindReal, Real: v}, p.advance()
	case tokString:
		return Param{Kind: KindString, Text: t.text}, p.advance()
	case tokEnum:
		return Param{Kind: KindEnum, Text: t.text}, p.advance()
	case tokBinary:
		return Param{Kind: KindBinary, Text: t.text}, p.advance()
	case tokInstance:
		id, err := strconv.Atoi(t.text)
		if err != nil {
			return Param{}, p.errorf("bad instance name #%s", t.text)
		}
		return Param{Kind: KindRef, Ref: id}, p.advance()
	case tokLParen:
		items, err := p.list()
		if err != nil {
			return Param{}, err
		}
		return Param{Kind: KindList, List: items}, nil
	case tokKeyword:
		if err := p.advance(); err != nil {
			return Param{}, err
		}
		inner, err := p.list()
		if err != nil {
			return Param{}, err
		}
		return Param{Kind: KindTyped, Text: t.text, List: inner}, nil
	}
	return Param{}, p.errorf("unexpected %s in parameter list", describe(t))
}
