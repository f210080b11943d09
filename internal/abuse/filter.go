// Package abuse screens inbound chat messages for prompt-injection and
// jailbreak phrasing before any quota state is touched.
package abuse

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Result reports the outcome of an inspection. A zero Result is clean.
type Result struct {
	Flagged bool
	Pattern string
}

// Filter matches message text against a fixed phrase list. Matching is
// case-insensitive substring search, not semantic analysis.
type Filter struct {
	patterns []string
}

// DefaultPatterns returns the built-in jailbreak phrase list.
func DefaultPatterns() []string {
	return []string{
		"ignore previous instructions",
		"ignore all previous",
		"disregard previous",
		"forget everything",
		"new instructions",
		"you are now",
		"act as if",
		"pretend you are",
		"system:",
		"override",
		"sudo mode",
		"admin mode",
		"developer mode",
		"god mode",
	}
}

// New builds a filter over the supplied phrase list. Patterns are
// normalized to lowercase; empty entries are dropped.
func New(patterns []string) *Filter {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &Filter{patterns: cleaned}
}

// LoadPatterns reads a replacement rule set from a newline-delimited
// file. Blank lines and lines starting with '#' are skipped.
func LoadPatterns(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open abuse patterns: %w", err)
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read abuse patterns: %w", err)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("abuse patterns file %s contains no patterns", path)
	}
	return patterns, nil
}

// Inspect scans the message and reports the first matching pattern.
func (f *Filter) Inspect(message string) Result {
	lowered := strings.ToLower(message)
	for _, pattern := range f.patterns {
		if strings.Contains(lowered, pattern) {
			return Result{Flagged: true, Pattern: pattern}
		}
	}
	return Result{}
}
