package models

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/pquerna/otp/totp"
)

// TOTPIssuer is shown in authenticator apps next to the account name.
const TOTPIssuer = "Congregation Admin"

// TOTPEnrollment carries what a local user needs to add the account to an authenticator.
type TOTPEnrollment struct {
	Secret     string `json:"secret"`
	QRCode     string `json:"qr_code"`
	OTPAuthURL string `json:"otpauth_url"`
	Issuer     string `json:"issuer"`
	Account    string `json:"account"`
}

// NewTOTPEnrollment generates a fresh secret and a PNG QR code as a data URI.
func NewTOTPEnrollment(username string) (TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      TOTPIssuer,
		AccountName: username,
	})
	if err != nil {
		return TOTPEnrollment{}, err
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return TOTPEnrollment{}, err
	}

	return TOTPEnrollment{
		Secret:     key.Secret(),
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		OTPAuthURL: key.URL(),
		Issuer:     TOTPIssuer,
		Account:    username,
	}, nil
}

// VerifyTOTPCode verifies a TOTP code against a secret
func VerifyTOTPCode(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	return totp.Validate(code, secret)
}
