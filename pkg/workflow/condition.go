// Copyright 2026 Atelier
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package workflow

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Condition expressions are a closed grammar: literals, {{...}}
// placeholders, comparisons, and/or/not, and the string operators
// contains, startswith, endswith. No function calls, no arithmetic.
// Expressions parse once at workflow-create time; evaluation is total,
// so a missing reference or a type mismatch yields false rather than
// an error at run time.
//
// Precedence, loosest first: or, and, not, comparison.

type condExpr interface {
	eval(st *state) interface{}
}

type condLiteral struct {
	value interface{}
}

func (e *condLiteral) eval(*state) interface{} { return e.value }

// condRef resolves a {{scope.key}} placeholder to its typed value at
// evaluation time. Substituting the text first would break the parse
// whenever the value contains spaces or quotes.
type condRef struct {
	ref string
}

func (e *condRef) eval(st *state) interface{} {
	v, ok := st.resolve(e.ref)
	if !ok {
		return nil
	}
	return v
}

type condNot struct {
	operand condExpr
}

func (e *condNot) eval(st *state) interface{} { return !truthy(e.operand.eval(st)) }

type condBinary struct {
	op    string
	left  condExpr
	right condExpr
}

func (e *condBinary) eval(st *state) interface{} {
	switch e.op {
	case "and":
		return truthy(e.left.eval(st)) && truthy(e.right.eval(st))
	case "or":
		return truthy(e.left.eval(st)) || truthy(e.right.eval(st))
	}

	l := e.left.eval(st)
	r := e.right.eval(st)
	switch e.op {
	case "==":
		return looseEqual(l, r)
	case "!=":
		return !looseEqual(l, r)
	case "<", "<=", ">", ">=":
		return compareOrdered(e.op, l, r)
	case "contains":
		if list, ok := l.([]interface{}); ok {
			for _, item := range list {
				if looseEqual(item, r) {
					return true
				}
			}
			return false
		}
		return strings.Contains(formatValue(l), formatValue(r))
	case "startswith":
		return strings.HasPrefix(formatValue(l), formatValue(r))
	case "endswith":
		return strings.HasSuffix(formatValue(l), formatValue(r))
	}
	return false
}

// truthy follows the usual scripting rules: nil and empty values are
// false, everything else is true.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}

// looseEqual compares across the numeric types JSON decoding produces.
// Values of different kinds are never equal.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as == bs
	}
	if aStr != bStr {
		return false
	}
	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool {
		return ab == bb
	}
	if aBool != bBool {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compareOrdered(op string, a, b interface{}) bool {
	var cmp int
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	as, aStr := a.(string)
	bs, bStr := b.(string)
	switch {
	case aNum && bNum:
		switch {
		case af < bf:
			cmp = -1
		case af > bf:
			cmp = 1
		}
	case aStr && bStr:
		cmp = strings.Compare(as, bs)
	default:
		return false
	}
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// Lexer and parser.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokNumber
	tokIdent
	tokOp
	tokRef
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

type condLexer struct {
	src string
	pos int
}

func (l *condLexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	ch := l.src[l.pos]
	switch {
	case ch == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ch == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case ch == '\'' || ch == '"':
		return l.lexString(ch)
	case ch == '{' && strings.HasPrefix(l.src[l.pos:], "{{"):
		end := strings.Index(l.src[l.pos:], "}}")
		if end < 0 {
			return token{}, fmt.Errorf("unterminated placeholder at offset %d", start)
		}
		ref := strings.TrimSpace(l.src[l.pos+2 : l.pos+end])
		if ref == "" {
			return token{}, fmt.Errorf("empty placeholder at offset %d", start)
		}
		l.pos += end + 2
		return token{kind: tokRef, text: ref, pos: start}, nil
	case ch >= '0' && ch <= '9', ch == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9':
		return l.lexNumber()
	case ch == '=' || ch == '!' || ch == '<' || ch == '>':
		return l.lexOperator()
	case unicode.IsLetter(rune(ch)) || ch == '_':
		for l.pos < len(l.src) && (unicode.IsLetter(rune(l.src[l.pos])) || unicode.IsDigit(rune(l.src[l.pos])) || l.src[l.pos] == '_') {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at offset %d", string(ch), start)
}

func (l *condLexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		switch ch {
		case quote:
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, fmt.Errorf("unterminated string at offset %d", start)
			}
			l.pos++
			sb.WriteByte(l.src[l.pos])
			l.pos++
		default:
			sb.WriteByte(ch)
			l.pos++
		}
	}
	return token{}, fmt.Errorf("unterminated string at offset %d", start)
}

func (l *condLexer) lexNumber() (token, error) {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9' || l.src[l.pos] == '.') {
		l.pos++
	}
	text := l.src[start:l.pos]
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, fmt.Errorf("invalid number %q at offset %d", text, start)
	}
	return token{kind: tokNumber, text: text, num: n, pos: start}, nil
}

func (l *condLexer) lexOperator() (token, error) {
	start := l.pos
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==", "!=", "<=", ">=":
		l.pos += 2
		return token{kind: tokOp, text: two, pos: start}, nil
	}
	switch l.src[l.pos] {
	case '<', '>':
		l.pos++
		return token{kind: tokOp, text: string(l.src[start]), pos: start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at offset %d", string(l.src[start]), start)
}

type condParser struct {
	lexer condLexer
	tok   token
}

// parseCondition parses an expression into an evaluable tree. The
// error names the offending offset so a workflow author can find it.
func parseCondition(src string) (condExpr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	p := &condParser{lexer: condLexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	return expr, nil
}

func (p *condParser) advance() error {
	tok, err := p.lexer.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *condParser) parseOr() (condExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && p.tok.text == "or" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &condBinary{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (condExpr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && p.tok.text == "and" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &condBinary{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseNot() (condExpr, error) {
	if p.tok.kind == tokIdent && p.tok.text == "not" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &condNot{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (condExpr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	op := ""
	switch {
	case p.tok.kind == tokOp:
		op = p.tok.text
	case p.tok.kind == tokIdent:
		switch p.tok.text {
		case "contains", "startswith", "endswith":
			op = p.tok.text
		}
	}
	if op == "" {
		return left, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &condBinary{op: op, left: left, right: right}, nil
}

func (p *condParser) parsePrimary() (condExpr, error) {
	tok := p.tok
	switch tok.kind {
	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &condLiteral{value: tok.text}, nil
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &condLiteral{value: tok.num}, nil
	case tokRef:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &condRef{ref: tok.text}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &condLiteral{value: true}, nil
		case "false":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &condLiteral{value: false}, nil
		case "null":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &condLiteral{value: nil}, nil
		}
		return nil, fmt.Errorf("unknown identifier %q at offset %d", tok.text, tok.pos)
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis at offset %d", p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, fmt.Errorf("unexpected %q at offset %d", tok.text, tok.pos)
}

// evalCondition evaluates a parsed expression to its boolean outcome.
func evalCondition(expr condExpr, st *state) bool {
	return truthy(expr.eval(st))
}
