package shell

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// aliases maps a first word to its replacement text.
type aliases map[string]string

// expand replaces the first word of line when it names an alias. Expansion
// happens once; an alias whose text starts with its own name does not loop.
func (a aliases) expand(line string) string {
	trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("|<>&", r)
	})
	if end < 0 {
		end = len(trimmed)
	}
	text, ok := a[trimmed[:end]]
	if !ok {
		return line
	}
	return text + trimmed[end:]
}

// define parses name=text as produced by the parser from alias name='text'.
func (a aliases) define(arg string) error {
	name, text, ok := strings.Cut(arg, "=")
	if !ok {
		return fmt.Errorf("%s: not a definition", arg)
	}
	if !validAliasName(name) {
		return fmt.Errorf("%s: invalid alias name", name)
	}
	a[name] = text
	return nil
}

func (a aliases) sorted() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validAliasName(name string) bool {
	return name != "" && !strings.ContainsAny(name, " \t\n|<>&'\"\\=/")
}
