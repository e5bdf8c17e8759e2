// Package idcodec converts document identifiers into URL-safe tokens and back,
// and derives the correlation hash that links a document to its markup files.
package idcodec

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

const (
	// PrefixEncoded marks a path segment whose remainder is an Encode token.
	PrefixEncoded = 'e'
	// PrefixRaw marks a path segment whose remainder is used verbatim.
	PrefixRaw = 'u'
)

var (
	ErrInvalidToken    = errors.New("invalid identifier token")
	ErrUnknownIDPrefix = errors.New("cannot extract identifier from URL")
)

var remoteSchemePrefixes = []string{"http://", "https://", "ftp://"}

// Encode writes each UTF-16 code unit of s as two bytes (low, high) and
// renders the result as a URL token: base64 with '-' and '_' in place of
// '+' and '/', padding removed and its length appended as a single digit.
// Bytes of s that are not valid UTF-8 are encoded as U+FFFD, so such input
// does not round trip; callers check utf8.ValidString when that matters.
func Encode(s string) string {
	if s == "" {
		return ""
	}

	units := utf16.Encode([]rune(s))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = append(buf, byte(u), byte(u>>8))
	}

	return urlTokenEncode(buf)
}

// Decode reverses Encode.
func Decode(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	buf, err := urlTokenDecode(token)
	if err != nil {
		return "", err
	}
	if len(buf)%2 != 0 {
		return "", fmt.Errorf("%w: odd byte count %d", ErrInvalidToken, len(buf))
	}

	units := make([]uint16, len(buf)/2)
	for i := range units {
		units[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
	}
	if err := checkSurrogates(units); err != nil {
		return "", err
	}

	return string(utf16.Decode(units)), nil
}

// Hash returns the SHA-1 digest of s as uppercase hex byte pairs separated by
// hyphens, e.g. "0A-1B-...". It is a correlation key, not a security measure.
func Hash(s string) string {
	sum := sha1.Sum([]byte(s))

	var b strings.Builder
	b.Grow(len(sum) * 3)
	for i, c := range sum {
		if i > 0 {
			b.WriteByte('-')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

// ExtractDocumentID strips the one-character mode prefix from a path segment.
// "e" segments are decoded, "u" segments are returned as-is.
func ExtractDocumentID(segment string) (string, error) {
	if segment == "" {
		return "", ErrUnknownIDPrefix
	}

	switch segment[0] {
	case PrefixEncoded:
		id, err := Decode(segment[1:])
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnknownIDPrefix, err)
		}
		return id, nil
	case PrefixRaw:
		return segment[1:], nil
	default:
		return "", ErrUnknownIDPrefix
	}
}

// IsRemoteURL reports whether a document identifier names a file on another
// server rather than one under the local document root. It is a prefix test
// only; the identifier is never parsed as a URI.
func IsRemoteURL(documentID string) bool {
	lower := strings.ToLower(documentID)
	for _, p := range remoteSchemePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// checkSurrogates rejects high surrogates not followed by a low one and low
// surrogates with no high one before them.
func checkSurrogates(units []uint16) error {
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u >= 0xD800 && u <= 0xDBFF:
			if i+1 >= len(units) || units[i+1] < 0xDC00 || units[i+1] > 0xDFFF {
				return fmt.Errorf("%w: unpaired surrogate at unit %d", ErrInvalidToken, i)
			}
			i++
		case u >= 0xDC00 && u <= 0xDFFF:
			return fmt.Errorf("%w: unpaired surrogate at unit %d", ErrInvalidToken, i)
		}
	}
	return nil
}

func urlTokenEncode(buf []byte) string {
	enc := base64.StdEncoding.EncodeToString(buf)

	trimmed := strings.TrimRight(enc, "=")
	padding := len(enc) - len(trimmed)

	trimmed = strings.NewReplacer("+", "-", "/", "_").Replace(trimmed)
	return trimmed + string(rune('0'+padding))
}

func urlTokenDecode(token string) ([]byte, error) {
	if len(token) < 1 {
		return nil, ErrInvalidToken
	}

	last := token[len(token)-1]
	if last < '0' || last > '2' {
		return nil, fmt.Errorf("%w: bad padding marker %q", ErrInvalidToken, last)
	}

	body := token[:len(token)-1]
	body = strings.NewReplacer("-", "+", "_", "/").Replace(body)
	body += strings.Repeat("=", int(last-'0'))

	buf, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return buf, nil
}
