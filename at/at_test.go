package at_test

import (
	"testing"
	"time"

	"github.com/relaylab/serialterm/at"
)

func TestTimeoutFor(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected time.Duration
	}{
		{
			name:     "WiFi association command",
			command:  `AT+CWJAP="SSID","PASS"`,
			expected: 45 * time.Second,
		},
		{
			name:     "WiFi association query",
			command:  "AT+CWJAP?",
			expected: 45 * time.Second,
		},
		{
			name:     "WiFi scan command",
			command:  "AT+CWLAP",
			expected: 20 * time.Second,
		},
		{
			name:     "Plain attention command",
			command:  "AT",
			expected: 15 * time.Second,
		},
		{
			name:     "Firmware version query",
			command:  "AT+GMR",
			expected: 15 * time.Second,
		},
		{
			name:     "Empty command",
			command:  "",
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := at.TimeoutFor(tt.command); got != tt.expected {
				t.Errorf("TimeoutFor(%q) = %v, want %v", tt.command, got, tt.expected)
			}
		})
	}
}

func TestIsCompletionIndicator(t *testing.T) {
	tests := []struct {
		line     string
		expected bool
	}{
		{"OK", true},
		{"FAIL", true},
		{"ERROR", true},
		{"  OK  ", true},
		{"OK\r\n", true},
		{"ok", false},
		{"OKAY", false},
		{"+CWJAP:1", false},
		{"ERROR: 1", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := at.IsCompletionIndicator(tt.line); got != tt.expected {
				t.Errorf("IsCompletionIndicator(%q) = %v, want %v", tt.line, got, tt.expected)
			}
		})
	}
}
