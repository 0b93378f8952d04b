package rql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the comparable value kind of a property or argument.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindLink
)

// String returns the lowercase kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindLink:
		return "link"
	default:
		return "invalid"
	}
}

// Schema resolves property names to their value kinds for one object type.
type Schema interface {
	Property(name string) (Kind, bool)
}

// Arg is one positional predicate argument, already converted to its SQL
// parameter representation by the caller (links become row ids).
type Arg struct {
	Kind  Kind
	Value any
}

// Error codes for CompileError.
const (
	CodeSyntax          = "SYNTAX"
	CodeUnknownProperty = "UNKNOWN_PROPERTY"
	CodeMissingArgument = "MISSING_ARGUMENT"
	CodeTypeMismatch    = "TYPE_MISMATCH"
)

// CompileError reports a predicate that failed to compile. Nothing has been
// executed when one is returned.
type CompileError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsMissingArgument reports whether err is a missing-placeholder error.
func IsMissingArgument(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce) && ce.Code == CodeMissingArgument
}

// IsTypeMismatch reports whether err is a cross-type comparison error.
func IsTypeMismatch(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce) && ce.Code == CodeTypeMismatch
}

// Compile validates a predicate against a schema and argument list and
// returns a parameterized SQL WHERE fragment plus its ordered parameters.
func Compile(pred string, schema Schema, args []Arg) (string, []any, error) {
	toks, err := lex(pred)
	if err != nil {
		return "", nil, err
	}
	p := &parser{toks: toks, schema: schema, args: args}
	node, err := p.parseOr()
	if err != nil {
		return "", nil, err
	}
	if p.peek().typ != tokEOF {
		t := p.peek()
		return "", nil, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("unexpected %q at position %d", t.text, t.pos)}
	}
	return node.sql, node.params, nil
}

// fragment is a compiled subexpression.
type fragment struct {
	sql    string
	params []any
}

type parser struct {
	toks   []token
	i      int
	schema Schema
	args   []Arg
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.typ != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) parseOr() (fragment, error) {
	left, err := p.parseAnd()
	if err != nil {
		return fragment{}, err
	}
	for p.peek().typ == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return fragment{}, err
		}
		left = fragment{
			sql:    "(" + left.sql + " OR " + right.sql + ")",
			params: append(left.params, right.params...),
		}
	}
	return left, nil
}

func (p *parser) parseAnd() (fragment, error) {
	left, err := p.parseUnary()
	if err != nil {
		return fragment{}, err
	}
	for p.peek().typ == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return fragment{}, err
		}
		left = fragment{
			sql:    "(" + left.sql + " AND " + right.sql + ")",
			params: append(left.params, right.params...),
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (fragment, error) {
	if p.peek().typ == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return fragment{}, err
		}
		return fragment{sql: "NOT " + inner.sql, params: inner.params}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (fragment, error) {
	t := p.peek()
	switch t.typ {
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return fragment{}, err
		}
		if p.peek().typ != tokRParen {
			return fragment{}, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("missing ')' at position %d", p.peek().pos)}
		}
		p.next()
		return inner, nil
	case tokIdent:
		return p.parseComparison()
	default:
		return fragment{}, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("expected property or '(' at position %d", t.pos)}
	}
}

// operand is the right-hand side of a comparison before SQL emission.
type operand struct {
	kind   Kind
	isNull bool
	value  any
}

func (p *parser) parseComparison() (fragment, error) {
	prop := p.next()
	propKind, ok := p.schema.Property(prop.text)
	if !ok {
		return fragment{}, &CompileError{
			Code:    CodeUnknownProperty,
			Message: fmt.Sprintf("unknown property %q", prop.text),
		}
	}

	opTok := p.next()
	if opTok.typ != tokOp {
		return fragment{}, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("expected comparison operator at position %d", opTok.pos)}
	}
	op := opTok.text

	rhs, err := p.parseOperand()
	if err != nil {
		return fragment{}, err
	}

	if err := checkComparison(prop.text, propKind, op, rhs); err != nil {
		return fragment{}, err
	}
	return emit(prop.text, op, rhs), nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.typ {
	case tokString:
		return operand{kind: KindString, value: t.text}, nil
	case tokInt:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return operand{}, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("malformed integer %q", t.text)}
		}
		return operand{kind: KindInt, value: n}, nil
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("malformed number %q", t.text)}
		}
		return operand{kind: KindFloat, value: f}, nil
	case tokTrue:
		return operand{kind: KindBool, value: true}, nil
	case tokFalse:
		return operand{kind: KindBool, value: false}, nil
	case tokNull:
		return operand{isNull: true}, nil
	case tokArg:
		idx, err := strconv.Atoi(t.text)
		if err != nil {
			return operand{}, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("malformed placeholder $%s", t.text)}
		}
		if idx >= len(p.args) {
			return operand{}, &CompileError{
				Code:    CodeMissingArgument,
				Message: fmt.Sprintf("no arguments provided for placeholder $%d", idx),
			}
		}
		a := p.args[idx]
		if a.Value == nil {
			return operand{isNull: true}, nil
		}
		return operand{kind: a.Kind, value: a.Value}, nil
	default:
		return operand{}, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("expected value at position %d", t.pos)}
	}
}

var stringOnlyOps = map[string]bool{"CONTAINS": true, "BEGINSWITH": true, "ENDSWITH": true}
var orderedOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true}

// checkComparison enforces the type rules before any SQL executes.
func checkComparison(prop string, propKind Kind, op string, rhs operand) error {
	mismatch := func(rhsName string) error {
		return &CompileError{
			Code:    CodeTypeMismatch,
			Message: fmt.Sprintf("unsupported comparison between types: %s property %q and %s", propKind, prop, rhsName),
		}
	}

	if rhs.isNull {
		// Only links are nullable through the query surface, and only
		// for equality.
		if propKind != KindLink {
			return mismatch("null")
		}
		if op != "==" && op != "!=" {
			return &CompileError{Code: CodeTypeMismatch, Message: fmt.Sprintf("operator %s not supported for null comparison", op)}
		}
		return nil
	}

	if stringOnlyOps[op] {
		if propKind != KindString || rhs.kind != KindString {
			return mismatch(rhs.kind.String())
		}
		return nil
	}

	switch propKind {
	case KindString:
		if rhs.kind != KindString {
			return mismatch(rhs.kind.String())
		}
	case KindInt, KindFloat:
		if rhs.kind != KindInt && rhs.kind != KindFloat {
			return mismatch(rhs.kind.String())
		}
	case KindBool:
		if rhs.kind != KindBool {
			return mismatch(rhs.kind.String())
		}
		if orderedOps[op] {
			return &CompileError{Code: CodeTypeMismatch, Message: fmt.Sprintf("operator %s not supported for bool property %q", op, prop)}
		}
	case KindLink:
		if rhs.kind != KindLink {
			return mismatch(rhs.kind.String())
		}
		if orderedOps[op] {
			return &CompileError{Code: CodeTypeMismatch, Message: fmt.Sprintf("operator %s not supported for link property %q", op, prop)}
		}
	default:
		return mismatch(rhs.kind.String())
	}
	return nil
}

// emit produces the SQL fragment for one comparison. Values always travel
// as ? parameters, never interpolated.
func emit(prop, op string, rhs operand) fragment {
	col := quoteIdent(prop)

	if rhs.isNull {
		if op == "==" {
			return fragment{sql: col + " IS NULL"}
		}
		return fragment{sql: col + " IS NOT NULL"}
	}

	switch op {
	case "CONTAINS":
		return fragment{sql: "instr(" + col + ", ?) > 0", params: []any{rhs.value}}
	case "BEGINSWITH":
		return fragment{sql: "substr(" + col + ", 1, length(?)) = ?", params: []any{rhs.value, rhs.value}}
	case "ENDSWITH":
		return fragment{sql: "substr(" + col + ", -length(?)) = ?", params: []any{rhs.value, rhs.value}}
	case "==":
		return fragment{sql: col + " = ?", params: []any{rhs.value}}
	default:
		return fragment{sql: col + " " + op + " ?", params: []any{rhs.value}}
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
