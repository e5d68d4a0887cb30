package at

import (
	"strings"
	"time"
)

const (
	// Terminal Control
	CRLF = "\r\n"

	// Completion indicators
	OK    = "OK"
	FAIL  = "FAIL"
	ERROR = "ERROR"
)

// completionIndicators are the response line values that signal the device
// has finished responding to a command. Matching is exact after trimming.
var completionIndicators = map[string]struct{}{
	OK:    {},
	FAIL:  {},
	ERROR: {},
}

// TimeoutRule maps a command substring to the response timeout budget for
// commands containing it. Rules are matched against the upper-cased command
// text in order; the first match wins.
type TimeoutRule struct {
	Substring string
	Timeout   time.Duration
}

// DefaultTimeout is the response budget for commands without a dedicated rule.
const DefaultTimeout = 15 * time.Second

// timeoutRules holds the per-command timeout budgets. WiFi association can
// legitimately take tens of seconds; a scan is slower than a plain query but
// still bounded.
var timeoutRules = []TimeoutRule{
	{Substring: "CWJAP", Timeout: 45 * time.Second},
	{Substring: "CWLAP", Timeout: 20 * time.Second},
}

// TimeoutFor returns the response timeout budget for the given command.
// The command must already be upper-cased by the caller.
func TimeoutFor(commandUpper string) time.Duration {
	for _, rule := range timeoutRules {
		if strings.Contains(commandUpper, rule.Substring) {
			return rule.Timeout
		}
	}
	return DefaultTimeout
}

// IsCompletionIndicator reports whether the response line, after trimming,
// signals the end of a command's output.
func IsCompletionIndicator(line string) bool {
	_, ok := completionIndicators[strings.TrimSpace(line)]
	return ok
}
