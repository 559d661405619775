// Package validation provides custom validation rules for the application.
package validation

import (
	"encoding/hex"
	"regexp"
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/keymanager/internal/errors"
)

var (
	// identifierRegex matches runtime and replica identifiers.
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:\-]{0,127}$`)
)

// Accepted measurement sizes in bytes (SGX MRENCLAVE, TDX MRTD).
var measurementSizes = map[int]bool{32: true, 48: true}

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// Identifier validates runtime and replica identifiers.
var Identifier = validation.NewStringRuleWithError(
	func(s string) bool {
		return identifierRegex.MatchString(s)
	},
	validation.NewError(
		"validation_identifier",
		"must start with a letter or digit and contain only letters, digits, '.', '_', ':' or '-'",
	),
)

// Measurement validates a lower-case hex enclave measurement of a supported size.
var Measurement = validation.NewStringRuleWithError(
	func(s string) bool {
		if s != strings.ToLower(s) {
			return false
		}
		raw, err := hex.DecodeString(s)
		if err != nil {
			return false
		}
		return measurementSizes[len(raw)]
	},
	validation.NewError("validation_measurement", "must be a lower-case hex measurement of 32 or 48 bytes"),
)

// NoWhitespace rejects values with leading or trailing whitespace, such as
// enclave identities pasted into a command line.
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)
