// Package rules holds ozzo-validation rules shared by the domain models.
package rules

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// RequiredID rejects uuid.Nil. validation.Required treats a zero UUID as
// present because the array is never empty.
var RequiredID = validation.By(func(value interface{}) error {
	switch v := value.(type) {
	case uuid.UUID:
		if v == uuid.Nil {
			return validation.ErrRequired
		}
	case *uuid.UUID:
		if v != nil && *v == uuid.Nil {
			return validation.ErrRequired
		}
	}
	return nil
})

var errMoney = validation.NewError("validation_money", "must have at most 2 decimal places")

// Money accepts float64 amounts with at most two decimals.
var Money = validation.By(func(value interface{}) error {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case *float64:
		if v == nil {
			return nil
		}
		f = *v
	default:
		return nil
	}
	cents := f * 100
	if d := cents - float64(int64(cents+0.5*sign(cents))); d > 1e-6 || d < -1e-6 {
		return errMoney
	}
	return nil
})

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]*$`)

// Code matches upper-case identifiers such as coupon codes and token
// prefixes. Lower-case input is accepted; callers normalize with NormalizeCode.
var Code = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !codePattern.MatchString(NormalizeCode(s)) {
		return validation.NewError("validation_code", "must contain only letters, digits, '-' or '_'")
	}
	return nil
})

func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
