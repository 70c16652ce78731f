package compiler

import (
	"strings"
)

var branchKeywords = map[string]bool{
	"if":    true,
	"for":   true,
	"while": true,
	"case":  true,
	"catch": true,
}

// Complexity returns lineCount + 2*branchCount + functionCount for source.
// Strings, template literals and comments are skipped while counting tokens;
// blank lines do not count.
func Complexity(source string) int {
	lines := 0
	for _, l := range strings.Split(source, "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	branches, functions := countTokens(source)
	return lines + 2*branches + functions
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func countTokens(src string) (branches, functions int) {
	n := len(src)
	for i := 0; i < n; {
		c := src[i]
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return
			}
			i += end + 4
		case c == '"' || c == '\'' || c == '`':
			i = skipString(src, i)
		case isIdentStart(c):
			j := i + 1
			for j < n && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			// property names such as obj.if do not count
			if i == 0 || src[i-1] != '.' {
				if branchKeywords[word] {
					branches++
				} else if word == "function" {
					functions++
				}
			}
			i = j
		case c == '=' && i+1 < n && src[i+1] == '>':
			functions++
			i += 2
		case c == '&' && i+1 < n && src[i+1] == '&',
			c == '|' && i+1 < n && src[i+1] == '|':
			branches++
			i += 2
		case c == '?':
			switch {
			case i+1 < n && src[i+1] == '?':
				branches++
				i += 2
			case i+1 < n && src[i+1] == '.' && (i+2 >= n || src[i+2] < '0' || src[i+2] > '9'):
				// optional chaining
				i += 2
			default:
				branches++
				i++
			}
		default:
			i++
		}
	}
	return
}

// skipString returns the index just past the string literal starting at i
func skipString(src string, i int) int {
	quote := src[i]
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		case '\n':
			if quote != '`' {
				return i + 1
			}
		}
		i++
	}
	return i
}
