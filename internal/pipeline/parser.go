package pipeline

import (
	"strings"
)

// Parser turns command lines into pipelines.
type Parser struct {
	// Expand, when set, is called for every unquoted word containing a
	// glob metacharacter. Its matches replace the word; when it returns no
	// matches or an error the word is kept literally.
	Expand func(pattern string) ([]string, error)
}

// Parse parses line with the default parser (no glob expansion).
func Parse(line string) (*Pipeline, error) {
	return (&Parser{}).Parse(line)
}

// Parse splits line on | to get stages and handles <, >, >> and a
// trailing &. An empty or blank line yields a nil pipeline and no error.
func (ps *Parser) Parse(line string) (*Pipeline, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	toks, err := lex(line)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{}
	if n := len(toks); n > 0 && toks[n-1].op && toks[n-1].text == OpBackground {
		p.Background = true
		toks = toks[:n-1]
	}
	if len(toks) == 0 {
		return nil, &ParseError{Token: OpBackground, Msg: "missing command"}
	}

	var current []token
	for _, t := range toks {
		if t.op && t.text == OpPipe {
			if len(current) == 0 {
				return nil, &ParseError{Token: OpPipe, Msg: "empty pipeline stage"}
			}
			st, err := ps.parseStage(current)
			if err != nil {
				return nil, err
			}
			p.Stages = append(p.Stages, st)
			current = nil
			continue
		}
		current = append(current, t)
	}
	if len(current) == 0 {
		return nil, &ParseError{Token: OpPipe, Msg: "empty pipeline stage"}
	}
	st, err := ps.parseStage(current)
	if err != nil {
		return nil, err
	}
	p.Stages = append(p.Stages, st)

	return p, nil
}

// parseStage scans one |-delimited segment left to right. Each redirection
// operator consumes the following word as its target; a later redirection
// in the same direction replaces an earlier one.
func (ps *Parser) parseStage(toks []token) (Stage, error) {
	var st Stage
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !t.op {
			st.Args = append(st.Args, ps.expand(t)...)
			continue
		}
		switch t.text {
		case OpRedirectIn, OpRedirectOut, OpAppendOut:
			if i+1 >= len(toks) || toks[i+1].op {
				return Stage{}, &ParseError{Token: t.text, Msg: t.text + " requires a file path"}
			}
			i++
			target := toks[i].text
			switch t.text {
			case OpRedirectIn:
				st.In = target
			case OpRedirectOut:
				st.Out, st.Append = target, false
			case OpAppendOut:
				st.Out, st.Append = target, true
			}
		case OpBackground:
			return Stage{}, &ParseError{Token: OpBackground, Msg: "& is only allowed at the end of a line"}
		}
	}
	if len(st.Args) == 0 {
		return Stage{}, &ParseError{Msg: "missing command"}
	}
	return st, nil
}

func (ps *Parser) expand(t token) []string {
	if ps.Expand == nil || t.quoted || !strings.ContainsAny(t.text, "*?[") {
		return []string{t.text}
	}
	matches, err := ps.Expand(t.text)
	if err != nil || len(matches) == 0 {
		return []string{t.text}
	}
	return matches
}
