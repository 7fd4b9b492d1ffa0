package service

import (
	"errors"
	"regexp"
	"strings"

	"github.com/k8ika0s/source-refinery/internal/buildmethod"
)

var summaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\[ERROR\] Failed to execute goal`),
	regexp.MustCompile(`(?i)compilation failure`),
	regexp.MustCompile(`(?i)could not resolve dependencies`),
	regexp.MustCompile(`(?i)execution failed for task`),
	regexp.MustCompile(`(?i)command not found`),
	regexp.MustCompile(`(?i)no such file or directory`),
	regexp.MustCompile(`(?i)exception`),
	regexp.MustCompile(`(?i)error:`),
	regexp.MustCompile(`(?i)failed`),
}

var noise = []string{
	"[info]",
	"downloading from",
	"downloaded from",
	"progress (",
	"[error] -> [help",
	"[error] re-run maven",
	"[error] to see the full stack trace",
	"[error] for more information",
	"* try:",
	"> run with --",
}

// buildOutput returns the tool output carried by err, if any.
func buildOutput(err error) string {
	var f *buildmethod.Failure
	if errors.As(err, &f) {
		return f.Output
	}
	return ""
}

// summarizeLog picks the line of a build log most likely to explain the
// failure: the last line matching a known pattern, else the last
// meaningful line.
func summarizeLog(logContent string) string {
	if strings.TrimSpace(logContent) == "" {
		return ""
	}
	lines := strings.Split(tailLogLines(logContent, 200), "\n")
	for _, pat := range summaryPatterns {
		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line == "" || isNoiseLine(line) {
				continue
			}
			if pat.MatchString(line) {
				return trimSummary(line)
			}
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || isNoiseLine(line) {
			continue
		}
		return trimSummary(line)
	}
	return ""
}

func isNoiseLine(line string) bool {
	lower := strings.ToLower(line)
	for _, token := range noise {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func tailLogLines(logContent string, maxLines int) string {
	lines := strings.Split(strings.TrimRight(logContent, "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}

func trimSummary(line string) string {
	const maxLen = 240
	if len(line) <= maxLen {
		return line
	}
	return line[:maxLen] + "..."
}
