package users

import (
	"fmt"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const MinPasswordLength = 8

var validate = validator.New()

// Credentials is a login request.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Registration is a sign-up request.
type Registration struct {
	Name                       string `json:"name" validate:"required"`
	Email                      string `json:"email" validate:"required,email"`
	Phone                      string `json:"phone,omitempty" validate:"omitempty,min=7,max=20"`
	Password                   string `json:"password" validate:"required"`
	ReferralCode               string `json:"referralCode,omitempty"`
	MembershipVerificationCode string `json:"membershipVerificationCode,omitempty"`
}

// Validate checks the request shape before it is sent.
func (c Credentials) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "[Credentials.Validate]")
	}
	return nil
}

func (r Registration) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(err, "[Registration.Validate]")
	}
	return ValidatePasswordStrength(r.Password)
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}

	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}
