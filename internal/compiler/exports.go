package compiler

import (
	"regexp"
	"strings"
)

var (
	exportDecl    = regexp.MustCompile(`\bexport\s+(?:declare\s+)?(?:async\s+)?(?:function\s*\*?|const|let|var|class)\s+([\w$]+)`)
	exportDefault = regexp.MustCompile(`\bexport\s+default\b`)
	exportList    = regexp.MustCompile(`\bexport\s*\{([^}]*)\}`)
	commonExport  = regexp.MustCompile(`\b(?:module\.)?exports\.([\w$]+)\s*=[^=]`)
	commonDefault = regexp.MustCompile(`\bmodule\.exports\s*=[^=]`)
)

// Exports lists the names a source exports, in first-seen order
func Exports(source string) []string {
	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, m := range exportDecl.FindAllStringSubmatch(source, -1) {
		add(m[1])
	}
	if exportDefault.MatchString(source) {
		add("default")
	}
	for _, m := range exportList.FindAllStringSubmatch(source, -1) {
		for _, item := range strings.Split(m[1], ",") {
			fields := strings.Fields(item)
			switch {
			case len(fields) == 0:
			case fields[0] == "type":
			case len(fields) == 3 && fields[1] == "as":
				add(fields[2])
			default:
				add(fields[0])
			}
		}
	}
	for _, m := range commonExport.FindAllStringSubmatch(source, -1) {
		add(m[1])
	}
	if len(names) == 0 && commonDefault.MatchString(source) {
		add("default")
	}
	return names
}
