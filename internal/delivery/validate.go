package delivery

import "regexp"

// Validation is the outcome of address validation. Normalized holds the
// canonical digits-only form when Valid is true.
type Validation struct {
	Valid      bool     `json:"is_valid"`
	Normalized string   `json:"normalized,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// canonicalLength is the digit count of a normalized address.
const canonicalLength = 10

// ValidateAddress normalizes a raw address to canonical digits-only form and
// rejects values that are too short, too long, or obviously synthetic.
// Failures are reported through Warnings, never silently coerced.
func ValidateAddress(raw string) Validation {
	digits := nonDigitRegex.ReplaceAllString(raw, "")

	v := Validation{}
	if digits == "" {
		v.Warnings = append(v.Warnings, "address contains no digits")
		return v
	}

	// Accept a leading country code 1 on 11-digit numbers.
	if len(digits) == canonicalLength+1 && digits[0] == '1' {
		digits = digits[1:]
	}

	if len(digits) < canonicalLength {
		v.Warnings = append(v.Warnings, "address is too short")
		return v
	}
	if len(digits) > canonicalLength {
		v.Warnings = append(v.Warnings, "address is too long")
		return v
	}

	if allZero(digits) {
		v.Warnings = append(v.Warnings, "address is all zeros")
		return v
	}
	if allSameDigit(digits) {
		v.Warnings = append(v.Warnings, "address repeats a single digit")
		return v
	}
	if sequentialDigits(digits) {
		v.Warnings = append(v.Warnings, "address is a sequential digit run")
		return v
	}

	v.Valid = true
	v.Normalized = digits
	return v
}

func allZero(digits string) bool {
	for i := 0; i < len(digits); i++ {
		if digits[i] != '0' {
			return false
		}
	}
	return true
}

func allSameDigit(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

// sequentialDigits reports whether every digit is exactly one above or one
// below its predecessor modulo 10, so wrapped runs like 1234567890 and
// 0987654321 are caught alongside 0123456789 and 9876543210.
func sequentialDigits(digits string) bool {
	if len(digits) < 2 {
		return false
	}
	// Ascending steps are 1, descending steps are 9 on the mod-10 wheel.
	step := (int(digits[1]) - int(digits[0]) + 10) % 10
	if step != 1 && step != 9 {
		return false
	}
	for i := 2; i < len(digits); i++ {
		if (int(digits[i])-int(digits[i-1])+10)%10 != step {
			return false
		}
	}
	return true
}
