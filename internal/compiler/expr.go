package compiler

import (
	"fmt"
	"strings"
	"unicode"
)

// Rule expressions are lexed and re-rendered rather than spliced into SQL,
// so only identifiers, literals, and arithmetic ever reach the warehouse.
//
//	rule   := IDENT '==' expr
//	expr   := term { ('+'|'-') term }
//	term   := factor { ('*'|'/') factor }
//	factor := IDENT | NUMBER | STRING | '(' expr ')'

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenOp
	tokenLParen
	tokenRParen
	tokenEq
	tokenEOF
)

type token struct {
	kind tokenKind
	text string
}

type exprParser struct {
	tokens []token
	pos    int
}

// ParseRule parses a symbolic equality "LEFT == f(...)" and returns the
// left-hand column and the canonically rendered right-hand expression,
// both upper-cased. Anything outside the grammar is rejected.
func ParseRule(expression string) (left, expr string, err error) {
	tokens, err := lexExpression(expression)
	if err != nil {
		return "", "", err
	}

	p := &exprParser{tokens: tokens}

	lhs := p.next()
	if lhs.kind != tokenIdent {
		return "", "", fmt.Errorf("rule must start with a column name, got %q", lhs.text)
	}
	if eq := p.next(); eq.kind != tokenEq {
		return "", "", fmt.Errorf("rule must be of the form COLUMN == expression")
	}

	rhs, err := p.parseExpr()
	if err != nil {
		return "", "", err
	}
	if tail := p.next(); tail.kind != tokenEOF {
		return "", "", fmt.Errorf("unexpected trailing input %q", tail.text)
	}

	return strings.ToUpper(lhs.text), rhs, nil
}

func lexExpression(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)

	for i := 0; i < len(runes); {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++

		case r == '+' || r == '-' || r == '*' || r == '/':
			tokens = append(tokens, token{tokenOp, string(r)})
			i++

		case r == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokenEq, "=="})
				i += 2
			} else {
				return nil, fmt.Errorf("single '=' is not allowed, use '=='")
			}

		case r == '\'':
			j := i + 1
			for j < len(runes) && runes[j] != '\'' {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{tokenString, string(runes[i+1 : j])})
			i = j + 1

		case unicode.IsDigit(r):
			j := i
			dots := 0
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				if runes[j] == '.' {
					dots++
				}
				j++
			}
			if dots > 1 {
				return nil, fmt.Errorf("malformed number %q", string(runes[i:j]))
			}
			tokens = append(tokens, token{tokenNumber, string(runes[i:j])})
			i = j

		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			j := i
			for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				if runes[j] > unicode.MaxASCII {
					return nil, fmt.Errorf("non-ASCII identifier at %q", string(runes[i:j+1]))
				}
				j++
			}
			tokens = append(tokens, token{tokenIdent, string(runes[i:j])})
			i = j

		default:
			return nil, fmt.Errorf("unexpected character %q in rule expression", string(r))
		}
	}

	tokens = append(tokens, token{tokenEOF, ""})
	return tokens, nil
}

func (p *exprParser) peek() token {
	return p.tokens[p.pos]
}

func (p *exprParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) parseExpr() (string, error) {
	out, err := p.parseTerm()
	if err != nil {
		return "", err
	}
	for p.peek().kind == tokenOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text
		rhs, err := p.parseTerm()
		if err != nil {
			return "", err
		}
		out = out + " " + op + " " + rhs
	}
	return out, nil
}

func (p *exprParser) parseTerm() (string, error) {
	out, err := p.parseFactor()
	if err != nil {
		return "", err
	}
	for p.peek().kind == tokenOp && (p.peek().text == "*" || p.peek().text == "/") {
		op := p.next().text
		rhs, err := p.parseFactor()
		if err != nil {
			return "", err
		}
		out = out + " " + op + " " + rhs
	}
	return out, nil
}

func (p *exprParser) parseFactor() (string, error) {
	t := p.next()
	switch t.kind {
	case tokenIdent:
		return strings.ToUpper(t.text), nil
	case tokenNumber:
		return t.text, nil
	case tokenString:
		return "'" + strings.ReplaceAll(t.text, "'", "''") + "'", nil
	case tokenLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return "", err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return "", fmt.Errorf("missing closing parenthesis")
		}
		return "(" + inner + ")", nil
	case tokenEOF:
		return "", fmt.Errorf("unexpected end of expression")
	default:
		return "", fmt.Errorf("unexpected token %q", t.text)
	}
}
