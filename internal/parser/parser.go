// Package parser extracts titles, tags, and indexable plain text from Markdown notes.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[([^\]|]*)(?:\|([^\]]*))?\]\]`)
	mdLinkRe   = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasisRe = regexp.MustCompile("(\\*\\*|__|\\*|`+|~~)")
)

// Result holds the output of parsing a Markdown note.
type Result struct {
	Frontmatter map[string]interface{}
	Title       string
	Body        string // plain text suitable for tokenising
	Tags        []string
}

// Parse extracts frontmatter, title, tags, and a plain-text body from raw Markdown.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frontmatter: fm,
		Title:       deriveTitle(fm, body),
		Body:        PlainText(body),
		Tags:        extractTags(body, fm),
	}, nil
}

// PlainText strips Markdown syntax that would otherwise pollute a token stream.
func PlainText(md string) string {
	out := wikilinkRe.ReplaceAllStringFunc(md, func(m string) string {
		sub := wikilinkRe.FindStringSubmatch(m)
		if alias := strings.TrimSpace(sub[2]); alias != "" {
			return alias
		}
		return strings.TrimSpace(sub[1])
	})
	out = mdLinkRe.ReplaceAllString(out, "$1")
	out = headingRe.ReplaceAllString(out, "")
	out = emphasisRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML is indexed as ordinary text.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractTags collects tags from the frontmatter "tags" list and inline #tags.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	if list, ok := fm["tags"].([]interface{}); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
