package paypack

import (
	"regexp"
	"strings"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/shopspring/decimal"
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizePhone returns the local 10-digit form the gateway expects (07XXXXXXXX).
// Accepted inputs: +250 7XX..., 250 7XX..., 07XX..., 7XX....
func NormalizePhone(raw string) (string, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "2507"):
		digits = "0" + digits[3:]
	case len(digits) == 9 && strings.HasPrefix(digits, "7"):
		digits = "0" + digits
	}
	if len(digits) != 10 || !strings.HasPrefix(digits, "07") {
		return "", domain.NewValidationError("INVALID_PHONE", "phone number must be a Rwandan mobile number such as 0788123456")
	}
	return digits, nil
}

// ToRWF converts a USD price to whole francs, rounding half away from zero.
func ToRWF(usd, rate decimal.Decimal) int64 {
	return usd.Mul(rate).Round(0).IntPart()
}
