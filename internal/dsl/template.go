package dsl

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var variableRefPattern = regexp.MustCompile(`\{\{\s*\.(vars|env)\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ExpandVariables substitutes {{ .vars.key }} references from vars and
// {{ .env.KEY }} references from the process environment in a raw suite
// document, before parsing. An unresolvable reference is an error so typos
// never silently reach the compiler.
func ExpandVariables(payload []byte, vars map[string]string) ([]byte, error) {
	var missing []string

	expanded := variableRefPattern.ReplaceAllStringFunc(string(payload), func(match string) string {
		groups := variableRefPattern.FindStringSubmatch(match)
		scope, key := groups[1], groups[2]

		if scope == "env" {
			if value, ok := os.LookupEnv(key); ok {
				return value
			}
			missing = append(missing, ".env."+key)
			return match
		}

		if value, ok := vars[key]; ok {
			return value
		}
		missing = append(missing, ".vars."+key)
		return match
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("unresolved suite variables: %s", strings.Join(missing, ", "))
	}
	return []byte(expanded), nil
}
