package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/storage"
)

// statement is the parsed form of the small SELECT dialect the emulation
// understands:
//
//	SELECT <* | path [, path ...]> FROM <keyspace>
//	    [WHERE path (= | !=) literal [AND ...]] [LIMIT n]
type statement struct {
	fields   []string // nil means *
	keyspace string
	where    []condition
	limit    int // 0 means unlimited
}

type condition struct {
	path   string
	negate bool
	value  any
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
}

func syntaxErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", cluster.ErrQuerySyntax, fmt.Sprintf(format, args...))
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '*' || r == ',' || r == '=' || r == ';' || r == '(' || r == ')':
			toks = append(toks, token{tokSymbol, string(r)})
			i++
		case r == '!':
			if i+1 < len(rs) && rs[i+1] == '=' {
				toks = append(toks, token{tokSymbol, "!="})
				i += 2
				continue
			}
			return nil, syntaxErr("unexpected '!' at offset %d", i)
		case r == '"' || r == '\'' || r == '`':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				j++
			}
			if j >= len(rs) {
				return nil, syntaxErr("unterminated quote at offset %d", i)
			}
			kind := tokString
			if r == '`' {
				kind = tokIdent
			}
			toks = append(toks, token{kind, string(rs[i+1 : j])})
			i = j + 1
		case unicode.IsDigit(r) || r == '-':
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.' || rs[j] == '-') {
				j++
			}
			path := string(rs[i:j])
			if strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
				return nil, syntaxErr("malformed path %q at offset %d", path, i)
			}
			toks = append(toks, token{tokIdent, path})
			i = j
		default:
			return nil, syntaxErr("unexpected character %q at offset %d", r, i)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) keyword(kw string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) symbol(s string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokSymbol && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *parser) ident(what string) (string, error) {
	t, ok := p.next()
	if !ok {
		return "", syntaxErr("expected %s, got end of statement", what)
	}
	if t.kind != tokIdent {
		return "", syntaxErr("expected %s, got %q", what, t.text)
	}
	return t.text, nil
}

func parseStatement(src string) (*statement, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	st := &statement{}

	if !p.keyword("SELECT") {
		return nil, syntaxErr("statement must start with SELECT")
	}
	if !p.symbol("*") {
		for {
			f, err := p.ident("field")
			if err != nil {
				return nil, err
			}
			st.fields = append(st.fields, f)
			if !p.symbol(",") {
				break
			}
		}
	}
	if !p.keyword("FROM") {
		return nil, syntaxErr("expected FROM")
	}
	if st.keyspace, err = p.ident("keyspace"); err != nil {
		return nil, err
	}

	if p.keyword("WHERE") {
		for {
			c, err := p.condition()
			if err != nil {
				return nil, err
			}
			st.where = append(st.where, c)
			if !p.keyword("AND") {
				break
			}
		}
	}

	if p.keyword("LIMIT") {
		t, ok := p.next()
		if !ok || t.kind != tokNumber {
			return nil, syntaxErr("LIMIT requires a number")
		}
		n, err := strconv.Atoi(t.text)
		if err != nil || n < 0 {
			return nil, syntaxErr("invalid LIMIT %q", t.text)
		}
		st.limit = n
	}

	p.symbol(";")
	if t, ok := p.peek(); ok {
		return nil, syntaxErr("unexpected %q", t.text)
	}
	return st, nil
}

func (p *parser) condition() (condition, error) {
	path, err := p.ident("field")
	if err != nil {
		return condition{}, err
	}
	c := condition{path: path}
	switch {
	case p.symbol("="):
	case p.symbol("!="):
		c.negate = true
	default:
		return condition{}, syntaxErr("expected = or != after %s", path)
	}

	t, ok := p.next()
	if !ok {
		return condition{}, syntaxErr("expected literal after %s", path)
	}
	switch t.kind {
	case tokString:
		c.value = t.text
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return condition{}, syntaxErr("invalid number %q", t.text)
		}
		c.value = f
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			c.value = true
		case "false":
			c.value = false
		case "null":
			c.value = nil
		default:
			return condition{}, syntaxErr("expected literal, got %q", t.text)
		}
	default:
		return condition{}, syntaxErr("expected literal, got %q", t.text)
	}
	return c, nil
}

// execute runs st against store. keyspace must name the bucket itself.
func (st *statement) execute(bucket string, store storage.Store) ([]cluster.Row, error) {
	if st.keyspace != bucket {
		return nil, fmt.Errorf("keyspace not found: %s", st.keyspace)
	}

	keys := store.List()
	sort.Strings(keys)

	rows := make([]cluster.Row, 0)
	for _, key := range keys {
		entry, err := store.Get(key)
		if err != nil {
			continue // removed concurrently
		}
		var doc any
		if err := json.Unmarshal(entry.Value, &doc); err != nil {
			continue // not a JSON document
		}
		if !st.matches(doc) {
			continue
		}
		row, err := st.project(bucket, doc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if st.limit > 0 && len(rows) >= st.limit {
			break
		}
	}
	return rows, nil
}

func (st *statement) matches(doc any) bool {
	for _, c := range st.where {
		v, ok := lookup(doc, c.path)
		eq := ok && reflect.DeepEqual(v, c.value)
		if eq == c.negate {
			return false
		}
	}
	return true
}

func (st *statement) project(bucket string, doc any) (cluster.Row, error) {
	out := make(map[string]any)
	if st.fields == nil {
		out[bucket] = doc
	} else {
		for _, f := range st.fields {
			if v, ok := lookup(doc, f); ok {
				out[f[strings.LastIndex(f, ".")+1:]] = v
			}
		}
	}
	return json.Marshal(out)
}

func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}
