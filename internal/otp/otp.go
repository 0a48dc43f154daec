// Package otp produces TOTP codes for entries that carry a totpSecret.
//
// A secret is either a bare base32 string, as shown by most sites next to
// their QR code, or a full otpauth:// URL.
package otp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var ErrInvalidSecret = errors.New("invalid TOTP secret")

// Code is a generated one-time code
type Code struct {
	Value     string
	Remaining time.Duration // until the code rolls over
}

type params struct {
	secret string
	opts   totp.ValidateOpts
}

func parse(secret string) (params, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return params{}, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}

	p := params{opts: totp.ValidateOpts{
		Period:    30,
		Digits:    potp.DigitsSix,
		Algorithm: potp.AlgorithmSHA1,
	}}

	if strings.HasPrefix(strings.ToLower(secret), "otpauth://") {
		key, err := potp.NewKeyFromURL(secret)
		if err != nil {
			return params{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
		}
		if key.Type() != "totp" {
			return params{}, fmt.Errorf("%w: %s keys are not supported", ErrInvalidSecret, key.Type())
		}
		p.secret = key.Secret()
		p.opts.Period = uint(key.Period())
		p.opts.Digits = key.Digits()
		p.opts.Algorithm = key.Algorithm()
	} else {
		p.secret = strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	}
	return p, nil
}

// Generate returns the code for secret at time t
func Generate(secret string, t time.Time) (Code, error) {
	p, err := parse(secret)
	if err != nil {
		return Code{}, err
	}
	value, err := totp.GenerateCodeCustom(p.secret, t, p.opts)
	if err != nil {
		return Code{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	period := int64(p.opts.Period)
	left := period - t.Unix()%period
	return Code{Value: value, Remaining: time.Duration(left) * time.Second}, nil
}

// Validate reports whether secret can produce codes
func Validate(secret string) error {
	_, err := Generate(secret, time.Now())
	return err
}
