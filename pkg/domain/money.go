package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	dErrors "insureflow/pkg/domain-errors"
)

// Amount is a monetary value in minor currency units (cents).
type Amount int64

// ParseAmount parses a decimal string with at most two fraction digits, e.g. "1250.50".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "amount is required")
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || len(whole) > 15 || (hasFrac && (frac == "" || len(frac) > 2)) {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid amount")
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || strings.ContainsAny(whole, "+-") {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid amount")
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || strings.ContainsAny(frac, "+-") {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid amount")
	}
	v := Amount(units*100 + cents)
	if neg {
		v = -v
	}
	return v, nil
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// IsPositive reports whether a is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// MarshalJSON encodes the amount as a decimal string to avoid float rounding in clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return dErrors.New(dErrors.CodeInvalidInput, "invalid amount")
		}
		s = n.String()
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
