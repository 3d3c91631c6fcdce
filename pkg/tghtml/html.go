package tghtml

import (
	"html"
	"strings"
)

// H is a fragment of Telegram-safe HTML. Anything of type H is already
// escaped; plain strings must go through Esc before being mixed in.
type H string

func (h H) String() string { return string(h) }

// Esc escapes s for Telegram's HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw asserts that s is already valid Telegram HTML. Use sparingly.
func Raw(s string) H { return H(s) }

// B and Code wrap escaped text in the corresponding inline tag.
func B(s string) H    { return tag("b", Esc(s)) }
func Code(s string) H { return tag("code", Esc(s)) }

func tag(name string, inner H) H {
	return "<" + H(name) + ">" + inner + "</" + H(name) + ">"
}

// JoinH glues fragments with sep, skipping blank ones.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}

// Lines stacks fragments one per line, skipping blanks.
func Lines(parts ...H) H { return JoinH("\n", parts...) }
