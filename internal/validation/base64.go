package validation

import (
	"encoding/base64"

	validation "github.com/jellydator/validation"
)

// Base64 accepts standard padded base64, the encoding used for runtime
// encryption keys and sealing keys on the command line. Empty values pass so
// optional keys can be left unset.
var Base64 = validation.By(func(value any) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_base64_type", "must be a string")
	}
	if s == "" {
		return nil
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return validation.NewError("validation_base64", "must be standard base64")
	}
	return nil
})
