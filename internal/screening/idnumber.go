package screening

import (
	"time"
)

// Issue codes reported on a director whose ID number fails validation.
const (
	IssueIDMissing  = "ID_NUMBER_MISSING"
	IssueIDFormat   = "ID_NUMBER_INVALID_FORMAT"
	IssueIDDate     = "ID_NUMBER_INVALID_DATE"
	IssueIDChecksum = "ID_NUMBER_CHECKSUM_FAILED"
)

// ValidateSAID checks a South African ID number: 13 digits, a valid YYMMDD
// birth date in the first six, and a Luhn check digit. It returns the
// issues found; an empty result means the number is valid.
func ValidateSAID(idNumber string) []string {
	if idNumber == "" {
		return []string{IssueIDMissing}
	}
	if len(idNumber) != 13 || !allDigits(idNumber) {
		return []string{IssueIDFormat}
	}

	var issues []string
	if _, err := time.Parse("060102", idNumber[:6]); err != nil {
		issues = append(issues, IssueIDDate)
	}
	if !luhnValid(idNumber) {
		issues = append(issues, IssueIDChecksum)
	}
	return issues
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// luhnValid assumes s is all digits.
func luhnValid(s string) bool {
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
