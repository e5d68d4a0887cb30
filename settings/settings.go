// Package settings holds the persisted serial device configuration: which
// port to open, how to frame bytes on the wire, and how device output is
// decoded into text. Settings survive restarts in a small JSON file and are
// persisted on every successful change.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relaylab/serialterm/at"
)

var (
	// ErrUnknownParameter is returned by Set for a parameter name that is
	// not part of the configuration.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrInvalidValue is returned when a parameter value cannot be coerced
	// to the parameter's type, or an encoding/error-policy name is not
	// recognized. The stored configuration is left unchanged.
	ErrInvalidValue = errors.New("invalid value")
)

// Settings is the full device configuration. The zero value is not useful;
// use Defaults or Load.
type Settings struct {
	Port           string  `json:"port"`
	Baudrate       int     `json:"baudrate"`
	Bytesize       int     `json:"bytesize"`
	Parity         string  `json:"parity"`
	Stopbits       float64 `json:"stopbits"`
	Timeout        float64 `json:"timeout"`
	Encoding       string  `json:"encoding"`
	EncodingErrors string  `json:"encoding_errors"`
}

// Defaults returns the documented default configuration.
func Defaults() Settings {
	return Settings{
		Port:           "/dev/ttyUSB0",
		Baudrate:       9600,
		Bytesize:       8,
		Parity:         "N",
		Stopbits:       1,
		Timeout:        1,
		Encoding:       "utf-8",
		EncodingErrors: "replace",
	}
}

// parameterNames lists the settable parameters in display order.
var parameterNames = []string{
	"port", "baudrate", "bytesize", "parity", "stopbits",
	"timeout", "encoding", "encoding_errors",
}

// Names returns the settable parameter names in display order.
func Names() []string {
	return parameterNames
}

// ReadTimeout converts the configured base timeout (fractional seconds) to a
// duration, falling back to one second for non-positive values.
func (s Settings) ReadTimeout() time.Duration {
	if s.Timeout <= 0 {
		return time.Second
	}
	return time.Duration(s.Timeout * float64(time.Second))
}

// Decoding returns the text decoding derived from the settings.
func (s Settings) Decoding() at.Decoding {
	return at.Decoding{Charset: s.Encoding, Errors: s.EncodingErrors}
}

// Render formats the settings for display, one "name: value" line per
// parameter, in display order.
func (s Settings) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "port: %s\n", s.Port)
	fmt.Fprintf(&sb, "baudrate: %d\n", s.Baudrate)
	fmt.Fprintf(&sb, "bytesize: %d\n", s.Bytesize)
	fmt.Fprintf(&sb, "parity: %s\n", s.Parity)
	fmt.Fprintf(&sb, "stopbits: %g\n", s.Stopbits)
	fmt.Fprintf(&sb, "timeout: %g\n", s.Timeout)
	fmt.Fprintf(&sb, "encoding: %s\n", s.Encoding)
	fmt.Fprintf(&sb, "encoding_errors: %s", s.EncodingErrors)
	return sb.String()
}

// Store is a thread-safe settings container backed by a JSON file.
// Every successful mutation is persisted immediately.
type Store struct {
	mu   sync.Mutex
	path string
	cur  Settings
}

// Load opens the store at the given path. A missing file yields the default
// configuration; a present but unreadable file is an error.
func Load(path string) (*Store, error) {
	s := &Store{path: path, cur: Defaults()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	if err := json.Unmarshal(data, &s.cur); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return s, nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Set coerces value to the parameter's type and persists the change.
// baudrate and bytesize are integers, stopbits and timeout are fractional
// numbers, everything else is stored as-is. A failed coercion returns
// ErrInvalidValue and leaves the configuration unchanged.
func (s *Store) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	switch name {
	case "port":
		next.Port = value
	case "baudrate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w for baudrate: %q", ErrInvalidValue, value)
		}
		next.Baudrate = n
	case "bytesize":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w for bytesize: %q", ErrInvalidValue, value)
		}
		next.Bytesize = n
	case "parity":
		next.Parity = value
	case "stopbits":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w for stopbits: %q", ErrInvalidValue, value)
		}
		next.Stopbits = f
	case "timeout":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w for timeout: %q", ErrInvalidValue, value)
		}
		next.Timeout = f
	case "encoding":
		next.Encoding = value
	case "encoding_errors":
		next.EncodingErrors = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}

	if err := s.save(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// SetEncoding validates and persists the text decoding configuration.
// Unknown charsets and unknown error policies return ErrInvalidValue.
func (s *Store) SetEncoding(charset, policy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !at.SupportedCharset(charset) {
		return fmt.Errorf("%w: unsupported encoding %q", ErrInvalidValue, charset)
	}
	if !at.ValidErrorPolicy(policy) {
		return fmt.Errorf("%w: unsupported error policy %q", ErrInvalidValue, policy)
	}

	next := s.cur
	next.Encoding = charset
	next.EncodingErrors = policy
	if err := s.save(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

func (s *Store) save(cfg Settings) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

// reload re-reads the backing file, replacing the in-memory settings.
// Used by the file watcher when the file changes out-of-band.
func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	next := Defaults()
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parse settings file %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	return nil
}
