package token

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/uhyunpark/spotdex/pkg/app/core/dexerr"
)

// TickerLength is the fixed width of a ticker symbol.
const TickerLength = 32

// Ticker is a fixed-width asset symbol, upper case and zero padded.
// The zero value is not a valid ticker.
type Ticker [TickerLength]byte

// ParseTicker canonicalizes s (trim + upper case) and validates it.
func ParseTicker(s string) (Ticker, error) {
	var t Ticker
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return t, fmt.Errorf("%w: empty", dexerr.ErrInvalidTicker)
	}
	if len(s) > TickerLength {
		return t, fmt.Errorf("%w: %q longer than %d bytes", dexerr.ErrInvalidTicker, s, TickerLength)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-' {
			continue
		}
		return t, fmt.Errorf("%w: %q contains %q", dexerr.ErrInvalidTicker, s, c)
	}
	copy(t[:], s)
	return t, nil
}

// MustTicker is ParseTicker for constants and tests.
func MustTicker(s string) Ticker {
	t, err := ParseTicker(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Ticker) String() string {
	return string(bytes.TrimRight(t[:], "\x00"))
}

func (t Ticker) IsZero() bool {
	return t == Ticker{}
}

func (t Ticker) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Ticker) UnmarshalText(b []byte) error {
	parsed, err := ParseTicker(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
