package rql

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokString
	tokInt
	tokFloat
	tokArg    // $N
	tokOp     // == != < <= > >= = CONTAINS BEGINSWITH ENDSWITH
	tokAnd    // AND / &&
	tokOr     // OR / ||
	tokNot    // NOT / !
	tokTrue
	tokFalse
	tokNull // nil / null
	tokLParen
	tokRParen
)

type token struct {
	typ  tokenType
	text string
	pos  int
}

// lex tokenizes a predicate string. Keywords are case-insensitive.
func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++

		case c == '$':
			j := i + 1
			for j < len(input) && isDigit(input[j]) {
				j++
			}
			if j == i+1 {
				return nil, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("bare '$' at position %d", i)}
			}
			toks = append(toks, token{tokArg, input[i+1 : j], i})
			i = j

		case c == '\'' || c == '"':
			text, next, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, text, i})
			i = next

		case c == '=':
			// A bare '=' is accepted as equality, same as '=='.
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokOp, "==", i})
				i += 2
			} else {
				toks = append(toks, token{tokOp, "==", i})
				i++
			}
		case c == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokOp, "!=", i})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!", i})
				i++
			}
		case c == '<':
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokOp, "<=", i})
				i += 2
			} else {
				toks = append(toks, token{tokOp, "<", i})
				i++
			}
		case c == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokOp, ">=", i})
				i += 2
			} else {
				toks = append(toks, token{tokOp, ">", i})
				i++
			}
		case c == '&':
			if i+1 < len(input) && input[i+1] == '&' {
				toks = append(toks, token{tokAnd, "&&", i})
				i += 2
			} else {
				return nil, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("bare '&' at position %d", i)}
			}
		case c == '|':
			if i+1 < len(input) && input[i+1] == '|' {
				toks = append(toks, token{tokOr, "||", i})
				i += 2
			} else {
				return nil, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("bare '|' at position %d", i)}
			}

		case isDigit(c) || (c == '-' && i+1 < len(input) && isDigit(input[i+1])):
			j := i + 1
			isFloat := false
			for j < len(input) && (isDigit(input[j]) || input[j] == '.') {
				if input[j] == '.' {
					if isFloat {
						return nil, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("malformed number at position %d", i)}
					}
					isFloat = true
				}
				j++
			}
			typ := tokInt
			if isFloat {
				typ = tokFloat
			}
			toks = append(toks, token{typ, input[i:j], i})
			i = j

		case isIdentStart(rune(c)):
			j := i + 1
			for j < len(input) && isIdentPart(rune(input[j])) {
				j++
			}
			word := input[i:j]
			toks = append(toks, keywordToken(word, i))
			i = j

		default:
			return nil, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("unexpected character %q at position %d", c, i)}
		}
	}
	toks = append(toks, token{tokEOF, "", len(input)})
	return toks, nil
}

func keywordToken(word string, pos int) token {
	switch strings.ToUpper(word) {
	case "AND":
		return token{tokAnd, word, pos}
	case "OR":
		return token{tokOr, word, pos}
	case "NOT":
		return token{tokNot, word, pos}
	case "TRUE":
		return token{tokTrue, word, pos}
	case "FALSE":
		return token{tokFalse, word, pos}
	case "NIL", "NULL":
		return token{tokNull, word, pos}
	case "CONTAINS", "BEGINSWITH", "ENDSWITH":
		return token{tokOp, strings.ToUpper(word), pos}
	default:
		return token{tokIdent, word, pos}
	}
}

func lexString(input string, start int) (string, int, error) {
	quote := input[start]
	var b strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch c {
		case quote:
			return b.String(), i + 1, nil
		case '\\':
			if i+1 >= len(input) {
				return "", 0, &CompileError{Code: CodeSyntax, Message: "unterminated escape in string literal"}
			}
			switch esc := input[i+1]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(esc)
			default:
				return "", 0, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("unknown escape \\%c in string literal", esc)}
			}
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &CompileError{Code: CodeSyntax, Message: fmt.Sprintf("unterminated string literal at position %d", start)}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
