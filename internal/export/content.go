package export

import (
	"html"
	"strings"

	nethtml "golang.org/x/net/html"
)

// blockTags end a line when extracting plain text.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "ul": true, "ol": true,
}

// IsHTML reports whether content carries element markup rather than plain
// text that happens to contain angle brackets.
func IsHTML(content string) bool {
	z := nethtml.NewTokenizer(strings.NewReader(content))
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			return false
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			if len(name) > 0 {
				return true
			}
		}
	}
}

// ToHTML turns review content into an HTML fragment. Plain text becomes
// paragraphs split on blank lines with <br> for single newlines.
func ToHTML(content string) string {
	if IsHTML(content) {
		return content
	}
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	var b strings.Builder
	for _, para := range strings.Split(normalized, "\n\n") {
		para = strings.Trim(para, "\n")
		if strings.TrimSpace(para) == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(line)
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>\n"))
		b.WriteString("</p>\n")
	}
	return b.String()
}

// ToText flattens review content to plain text. Block elements become line
// breaks and entities are decoded.
func ToText(content string) string {
	if !IsHTML(content) {
		return content
	}
	z := nethtml.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case nethtml.ErrorToken:
			// io.EOF or a malformed tail; keep what was read either way.
			return collapseBlankLines(b.String())
		case nethtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == nethtml.StartTagToken {
					skip++
				}
				continue
			}
			if tag == "br" {
				b.WriteString("\n")
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
				continue
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}
