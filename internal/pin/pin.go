// Package pin holds the PIN policy: what is accepted at setup, how strong a
// PIN looks, and random PIN suggestions.
package pin

import (
	"crypto/rand"
	"io"
	"math"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/aurasafe/aurasafe/internal/domain"
)

const (
	// MinLength is the shortest PIN accepted at setup
	MinLength = 4
	// MaxLength is the longest PIN accepted at setup
	MaxLength = 64
	// WeakBits is the estimated entropy below which a PIN is reported weak
	WeakBits = 20.0
)

const reasonLowEntropy = "too short for its character set"

var (
	randSource io.Reader = rand.Reader
	randMux    sync.RWMutex
)

// Character classes used to size the guessing space.
var classPools = []struct {
	name  string
	match func(r rune) bool
	size  int
}{
	{"digits", unicode.IsDigit, 10},
	{"lower", unicode.IsLower, 26},
	{"upper", unicode.IsUpper, 26},
	{"symbols", func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }, 33},
}

var commonPINs = map[string]struct{}{
	"0000": {}, "1111": {}, "1212": {}, "1234": {}, "1004": {}, "2000": {},
	"2222": {}, "3333": {}, "4321": {}, "4444": {}, "5555": {}, "6666": {},
	"6969": {}, "7777": {}, "8888": {}, "9999": {}, "1122": {}, "1313": {},
	"2580": {}, "0852": {}, "1010": {}, "2001": {}, "000000": {}, "111111": {},
	"112233": {}, "121212": {}, "123123": {}, "123456": {}, "654321": {},
	"666666": {}, "696969": {}, "123456789": {}, "password": {},
}

// Assessment describes how guessable a PIN is.
type Assessment struct {
	Bits    float64  `json:"bits"`
	Weak    bool     `json:"weak"`
	Reasons []string `json:"reasons,omitempty"`
}

// SetRandomSource sets the random source used by Generate.
// If r is nil, it resets to the default crypto/rand.Reader.
func SetRandomSource(r io.Reader) {
	randMux.Lock()
	if r == nil {
		randSource = rand.Reader
	} else {
		randSource = r
	}
	randMux.Unlock()
}

// Validate checks pin against the setup policy.
func Validate(pin string) error {
	n := utf8.RuneCountInString(pin)
	if n < MinLength {
		return &domain.ValidationError{Field: "pin", Reason: "must be at least 4 characters"}
	}
	if n > MaxLength {
		return &domain.ValidationError{Field: "pin", Reason: "must be at most 64 characters"}
	}
	if strings.IndexFunc(pin, unicode.IsSpace) >= 0 {
		return &domain.ValidationError{Field: "pin", Reason: "must not contain whitespace"}
	}
	if !utf8.ValidString(pin) {
		return &domain.ValidationError{Field: "pin", Reason: "must be valid UTF-8"}
	}
	return nil
}

// Assess estimates the strength of pin. It never rejects; Validate does that.
func Assess(pin string) Assessment {
	var a Assessment

	pool := 0
	for _, class := range classPools {
		if strings.IndexFunc(pin, class.match) >= 0 {
			pool += class.size
		}
	}
	n := utf8.RuneCountInString(pin)
	if pool > 0 {
		a.Bits = math.Round(float64(n)*math.Log2(float64(pool))*10) / 10
	}

	if _, ok := commonPINs[strings.ToLower(pin)]; ok {
		a.Reasons = append(a.Reasons, "commonly used PIN")
	}
	if n > 1 && isRepeated(pin) {
		a.Reasons = append(a.Reasons, "single repeated character")
	}
	if n > 2 && isSequential(pin) {
		a.Reasons = append(a.Reasons, "ascending or descending sequence")
	}
	if a.Bits < WeakBits {
		a.Reasons = append(a.Reasons, reasonLowEntropy)
	}

	a.Weak = len(a.Reasons) > 0
	return a
}

func isRepeated(s string) bool {
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			return false
		}
	}
	return true
}

func isSequential(s string) bool {
	runes := []rune(s)
	step := runes[1] - runes[0]
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(runes); i++ {
		if runes[i]-runes[i-1] != step {
			return false
		}
	}
	return true
}

// Generate returns a random numeric PIN of the given length that Assess does
// not flag as a common, repeated or sequential PIN.
func Generate(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", &domain.ValidationError{Field: "length", Reason: "must be between 4 and 64"}
	}

	randMux.RLock()
	src := randSource
	randMux.RUnlock()

	for {
		var b strings.Builder
		b.Grow(length)
		for i := 0; i < length; i++ {
			d, err := randomDigit(src)
			if err != nil {
				return "", err
			}
			b.WriteByte('0' + byte(d))
		}
		candidate := b.String()
		if !hasPatternReason(Assess(candidate)) {
			return candidate, nil
		}
	}
}

func hasPatternReason(a Assessment) bool {
	for _, r := range a.Reasons {
		if r != reasonLowEntropy {
			return true
		}
	}
	return false
}

// randomDigit draws an unbiased value in [0, 10) by rejection sampling.
func randomDigit(r io.Reader) (int, error) {
	const max = 10
	var buf [1]byte
	usable := 256 - (256 % max)
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		if int(buf[0]) < usable {
			return int(buf[0]) % max, nil
		}
	}
}
