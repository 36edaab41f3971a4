package report

import (
	"regexp"
	"strings"
)

const defaultName = "report"

var (
	slashRun   = regexp.MustCompile(`[/\\]+`)
	unsafeChar = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	dashRun    = regexp.MustCompile(`-+`)
)

// SanitizeName turns a user-supplied report name into a single safe path
// segment. The result is never empty and only contains [A-Za-z0-9._-].
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	name = slashRun.ReplaceAllString(name, "-")
	name = unsafeChar.ReplaceAllString(name, "-")
	name = dashRun.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		return defaultName
	}
	return name
}
