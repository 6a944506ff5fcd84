package cmd

import (
	"regexp"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes ANSI escape codes from a string
func stripANSI(str string) string {
	return ansiRegex.ReplaceAllString(str, "")
}
