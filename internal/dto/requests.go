package dto

import (
	"encoding/json"

	"github.com/prperemyshlev/servicehub-auth/internal/utils"
)

// Phone is a phone number that drops spaces and separators when decoded, so
// "+234 800 000 0000" binds as "+2348000000000" before the e164 check runs.
type Phone string

func (p *Phone) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Phone(utils.NormalizePhone(raw))
	return nil
}

func (p Phone) String() string {
	return string(p)
}

// PhoneRequest is the body of send-otp, resend-otp and get-otp-cooldown
type PhoneRequest struct {
	Phone Phone `json:"phone" binding:"required,e164"`
}

// VerifyOTPRequest represents a code verification request
type VerifyOTPRequest struct {
	Phone Phone  `json:"phone" binding:"required,e164"`
	OTP   string `json:"otp" binding:"required"`
}

// RefreshTokenRequest is the body of refresh and logout. The token may come
// from the cookie instead, so it is optional here.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}
