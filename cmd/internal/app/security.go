package app

import (
	"errors"

	"bms/cmd/internal/auth/credential"
)

// ValidateSecurityConfig enforces the auth security policy at startup.
//
// Fail-fast is intentional: a production process running with the
// development signing secret issues tokens anyone can forge.
func ValidateSecurityConfig(ccfg credential.Config) error {
	if ccfg.Production && ccfg.SigningSecret == credential.PlaceholderSigningSecret {
		return errors.New("security policy: BMS_ENV=production but SIGNING_SECRET is the development placeholder")
	}
	if ccfg.SigningSecret == "" {
		return errors.New("security policy: SIGNING_SECRET is empty")
	}
	return nil
}
