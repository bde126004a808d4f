package pipeline

import (
	"strings"

	"github.com/anmitsu/go-shlex"
)

type token struct {
	text   string // word after quote removal, or the operator itself
	op     bool
	quoted bool // word contained quoting or escapes
}

// lex splits a line into words and operators. Operators are only
// recognized outside quotes; each word's raw text is handed to shlex for
// quote removal.
func lex(line string) ([]token, error) {
	var (
		toks    []token
		raw     strings.Builder
		single  bool
		double  bool
		escaped bool
	)

	flush := func() error {
		if raw.Len() == 0 {
			return nil
		}
		r := raw.String()
		raw.Reset()
		words, err := shlex.Split(r, true)
		if err != nil {
			return &ParseError{Msg: err.Error()}
		}
		toks = append(toks, token{
			text:   strings.Join(words, " "),
			quoted: strings.ContainsAny(r, `'"\`),
		})
		return nil
	}
	emit := func(op string) error {
		if err := flush(); err != nil {
			return err
		}
		toks = append(toks, token{text: op, op: true})
		return nil
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case escaped:
			raw.WriteRune(r)
			escaped = false
			continue
		case single:
			raw.WriteRune(r)
			if r == '\'' {
				single = false
			}
			continue
		case double:
			raw.WriteRune(r)
			switch r {
			case '\\':
				escaped = true
			case '"':
				double = false
			}
			continue
		}

		var err error
		switch r {
		case '\\':
			raw.WriteRune(r)
			escaped = true
		case '\'':
			raw.WriteRune(r)
			single = true
		case '"':
			raw.WriteRune(r)
			double = true
		case ' ', '\t', '\n', '\r':
			err = flush()
		case '|':
			err = emit(OpPipe)
		case '<':
			err = emit(OpRedirectIn)
		case '>':
			if i+1 < len(runes) && runes[i+1] == '>' {
				i++
				err = emit(OpAppendOut)
			} else {
				err = emit(OpRedirectOut)
			}
		case '&':
			err = emit(OpBackground)
		default:
			raw.WriteRune(r)
		}
		if err != nil {
			return nil, err
		}
	}

	switch {
	case single || double:
		return nil, &ParseError{Msg: "unterminated quote"}
	case escaped:
		return nil, &ParseError{Msg: "unexpected end of line after backslash"}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return toks, nil
}
