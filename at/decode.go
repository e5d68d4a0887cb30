package at

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
)

// Error policies for decoding, mirroring the configuration vocabulary of the
// settings store.
const (
	ErrorsStrict  = "strict"
	ErrorsIgnore  = "ignore"
	ErrorsReplace = "replace"
)

// ErrUndecodable is returned by Decode when the raw bytes are not valid in
// the configured charset and the error policy is strict. Callers are expected
// to recover locally (hex rendering) rather than abort.
var ErrUndecodable = errors.New("bytes not valid in configured charset")

// Decoding describes how raw device bytes are turned into text: a charset
// name plus an error policy for bytes that are not valid in that charset.
type Decoding struct {
	Charset string
	Errors  string
}

// SupportedCharset reports whether the named charset can be used for
// decoding. UTF-8 and ASCII are handled natively; everything else must be
// resolvable through the IANA encoding index.
func SupportedCharset(name string) bool {
	switch normalizeCharset(name) {
	case "utf-8", "ascii":
		return true
	}
	enc, err := ianaindex.IANA.Encoding(name)
	return err == nil && enc != nil
}

// ValidErrorPolicy reports whether the named decode-error policy is known.
func ValidErrorPolicy(policy string) bool {
	switch policy {
	case ErrorsStrict, ErrorsIgnore, ErrorsReplace:
		return true
	}
	return false
}

// Decode converts raw device bytes into a string according to the configured
// charset and error policy. Only the strict policy can fail; ignore drops
// offending bytes and replace substitutes U+FFFD.
func (d Decoding) Decode(raw []byte) (string, error) {
	switch normalizeCharset(d.Charset) {
	case "utf-8", "":
		return d.decodeUTF8(raw)
	case "ascii":
		return d.decodeASCII(raw)
	}

	enc, err := ianaindex.IANA.Encoding(d.Charset)
	if err != nil || enc == nil {
		return "", fmt.Errorf("unsupported charset %q: %w", d.Charset, ErrUndecodable)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		if d.Errors == ErrorsStrict {
			return "", fmt.Errorf("decode %s: %w", d.Charset, ErrUndecodable)
		}
		// Non-strict policies keep whatever the decoder produced; x/text
		// decoders substitute U+FFFD for unmappable input.
		return string(decoded), nil
	}
	return string(decoded), nil
}

func (d Decoding) decodeUTF8(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	switch d.Errors {
	case ErrorsIgnore:
		return strings.ToValidUTF8(string(raw), ""), nil
	case ErrorsReplace:
		return strings.ToValidUTF8(string(raw), "�"), nil
	default:
		return "", fmt.Errorf("decode utf-8: %w", ErrUndecodable)
	}
}

func (d Decoding) decodeASCII(raw []byte) (string, error) {
	clean := true
	for _, b := range raw {
		if b >= 0x80 {
			clean = false
			break
		}
	}
	if clean {
		return string(raw), nil
	}
	var sb strings.Builder
	switch d.Errors {
	case ErrorsIgnore:
		for _, b := range raw {
			if b < 0x80 {
				sb.WriteByte(b)
			}
		}
	case ErrorsReplace:
		for _, b := range raw {
			if b < 0x80 {
				sb.WriteByte(b)
			} else {
				sb.WriteRune('�')
			}
		}
	default:
		return "", fmt.Errorf("decode ascii: %w", ErrUndecodable)
	}
	return sb.String(), nil
}

func normalizeCharset(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "utf8", "utf-8":
		return "utf-8"
	case "ascii", "us-ascii":
		return "ascii"
	}
	return name
}

// HexDump renders raw bytes as the fallback line buffered in place of an
// undecodable response, e.g. "Raw hex data: ff fe 61".
func HexDump(raw []byte) string {
	return fmt.Sprintf("Raw hex data: % x", raw)
}
