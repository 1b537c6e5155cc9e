package utils

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	NormalizePhone(raw string) (string, error)
	TruncateForPrompt(text string, maxRunes int) string
}

type utils struct{}

func New() IUtils {
	return &utils{}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// NormalizePhone reduces a spoken or dialed number to +<digits>. Ten-digit NANP
// numbers get a +1 prefix; anything under seven digits is rejected.
func (u *utils) NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}

	number := digits.String()
	if len(number) < 7 {
		return "", errors.New("phone number too short")
	}

	if len(number) == 10 {
		number = "1" + number
	}

	return "+" + number, nil
}

func (u *utils) TruncateForPrompt(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}
