package models

import (
	"crypto/rand"
	"fmt"
	"strings"

	dErrors "forgecert/pkg/domain-errors"
)

// Verification codes are human-transcribable: 16 characters from a 32-symbol
// alphabet that omits the ambiguous I, L, O and U, rendered in groups of
// four (AB12-CD34-EF56-GH78). The final character is a mod-32 checksum over
// the first fifteen, catching single-character transcription errors before
// any lookup happens.
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ0123456789"
	codeLength   = 16
	codeGroup    = 4
)

var codeIndex = func() map[byte]int {
	m := make(map[byte]int, len(codeAlphabet))
	for i := 0; i < len(codeAlphabet); i++ {
		m[codeAlphabet[i]] = i
	}
	return m
}()

// NewVerificationCode generates a fresh grouped verification code.
// Uniqueness is enforced by the store; callers retry on conflict.
func NewVerificationCode() (string, error) {
	raw := make([]byte, codeLength-1)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read randomness: %w", err)
	}

	body := make([]byte, 0, codeLength)
	sum := 0
	for _, b := range raw {
		idx := int(b) % len(codeAlphabet)
		sum += idx
		body = append(body, codeAlphabet[idx])
	}
	body = append(body, codeAlphabet[sum%len(codeAlphabet)])

	var groups []string
	for i := 0; i < codeLength; i += codeGroup {
		groups = append(groups, string(body[i:i+codeGroup]))
	}
	return strings.Join(groups, "-"), nil
}

// NormalizeCode canonicalizes user input: case-insensitive and
// separator-insensitive. Returns the bare 16-character form used for
// storage and lookup.
//
// Errors carry no detail about which part of a malformed code was wrong;
// verification responses stay constant-shape (found / not found).
func NormalizeCode(input string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		if r > 127 {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid verification code")
		}
		c := byte(r)
		if _, ok := codeIndex[c]; ok {
			b.WriteByte(c)
			continue
		}
		if c == '-' || c == ' ' {
			continue
		}
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid verification code")
	}

	code := b.String()
	if len(code) != codeLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid verification code")
	}
	sum := 0
	for i := 0; i < codeLength-1; i++ {
		sum += codeIndex[code[i]]
	}
	if codeAlphabet[sum%len(codeAlphabet)] != code[codeLength-1] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid verification code")
	}
	return code, nil
}

// FormatCode renders a normalized code back into its grouped display form.
func FormatCode(code string) string {
	if len(code) != codeLength {
		return code
	}
	var groups []string
	for i := 0; i < codeLength; i += codeGroup {
		groups = append(groups, code[i:i+codeGroup])
	}
	return strings.Join(groups, "-")
}
