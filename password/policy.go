package password

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrPolicy is returned by Policy.Check for unacceptable passwords.
var ErrPolicy = errors.New("password does not meet policy")

// Policy is the acceptance rule for new passwords.
type Policy struct {
	MinBytes      int
	MaxBytes      int
	RequireLetter bool
	RequireDigit  bool
}

// DefaultPolicy returns a length-only policy of 10 to 1024 bytes.
func DefaultPolicy() Policy {
	return Policy{MinBytes: 10, MaxBytes: 1024}
}

// Check validates password against p.
func (p Policy) Check(password string) error {
	if len(password) < p.MinBytes {
		return fmt.Errorf("%w: must be at least %d bytes", ErrPolicy, p.MinBytes)
	}
	if p.MaxBytes > 0 && len(password) > p.MaxBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrPolicy, p.MaxBytes)
	}

	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if p.RequireLetter && !letter {
		return fmt.Errorf("%w: must contain a letter", ErrPolicy)
	}
	if p.RequireDigit && !digit {
		return fmt.Errorf("%w: must contain a digit", ErrPolicy)
	}
	return nil
}
