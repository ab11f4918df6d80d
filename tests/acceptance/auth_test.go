package acceptance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prperemyshlev/servicehub-auth/internal/dto"
)

const phone = "+2348000000000"

type response struct {
	Status  int
	Header  http.Header
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type authData struct {
	Tokens tokens           `json:"tokens"`
	User   dto.UserResponse `json:"user"`
}

func (s *Suite) call(method, path string, body interface{}, bearer string) response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, s.BaseURL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var r response
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&r))
	r.Status = resp.StatusCode
	r.Header = resp.Header
	return r
}

func (s *Suite) login(role string) authData {
	r := s.call(http.MethodPost, "/api/v1/auth/"+role+"/send-otp", dto.PhoneRequest{Phone: phone}, "")
	s.Require().Equal(http.StatusOK, r.Status, r.Message)

	s.App.WaitDispatches()
	code := lastCode(s.SMS.sentTo(phone))
	s.Require().Equal(testCode, code)

	r = s.call(http.MethodPost, "/api/v1/auth/"+role+"/verify-otp", dto.VerifyOTPRequest{Phone: phone, OTP: code}, "")
	s.Require().Equal(http.StatusOK, r.Status, r.Message)

	var data authData
	s.Require().NoError(json.Unmarshal(r.Data, &data))
	return data
}

func (s *Suite) TestSendOTP_Cooldown() {
	r := s.call(http.MethodPost, "/api/v1/auth/consumer/send-otp", dto.PhoneRequest{Phone: phone}, "")
	s.Equal(http.StatusOK, r.Status)
	s.JSONEq(`{"cooldown":60}`, string(r.Data))

	s.App.WaitDispatches()
	s.Len(s.SMS.sentTo(phone), 1)

	r = s.call(http.MethodPost, "/api/v1/auth/consumer/send-otp", dto.PhoneRequest{Phone: phone}, "")
	s.Equal(http.StatusTooManyRequests, r.Status)
	s.Equal("TooManyAttempts", r.Code)
	retry, err := strconv.Atoi(r.Header.Get("Retry-After"))
	s.Require().NoError(err)
	s.InDelta(60, retry, 1)

	r = s.call(http.MethodPost, "/api/v1/auth/provider/get-otp-cooldown", dto.PhoneRequest{Phone: phone}, "")
	s.Equal(http.StatusOK, r.Status)
}

func (s *Suite) TestResendOTP_NoSession() {
	r := s.call(http.MethodPost, "/api/v1/auth/consumer/resend-otp", dto.PhoneRequest{Phone: phone}, "")
	s.Equal(http.StatusNotFound, r.Status)
	s.Equal("ResourceNotFound", r.Code)
}

func (s *Suite) TestSendOTP_InvalidPhone() {
	r := s.call(http.MethodPost, "/api/v1/auth/consumer/send-otp", dto.PhoneRequest{Phone: "12345"}, "")
	s.Equal(http.StatusBadRequest, r.Status)
	s.Equal("MissingParameter", r.Code)
}

func (s *Suite) TestVerifyOTP_CreatesAndLinksIdentity() {
	consumer := s.login("consumer")
	s.NotEmpty(consumer.Tokens.AccessToken)
	s.Equal("Bearer", consumer.Tokens.TokenType)
	s.Require().NotNil(consumer.User.ConsumerPhone)
	s.Equal(phone, *consumer.User.ConsumerPhone)
	s.Nil(consumer.User.ProviderPhone)

	provider := s.login("provider")
	s.Equal(consumer.User.ID, provider.User.ID)
	s.Require().NotNil(provider.User.ProviderPhone)
	s.Len(provider.User.ActiveRoles, 2)

	var count int
	s.Require().NoError(s.Postgres.DB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	s.Equal(1, count)
	s.Require().NoError(s.Postgres.DB.QueryRow(`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1`, consumer.User.ID).Scan(&count))
	s.Equal(2, count)
}

func (s *Suite) TestVerifyOTP_WrongCodeBlocks() {
	r := s.call(http.MethodPost, "/api/v1/auth/consumer/send-otp", dto.PhoneRequest{Phone: phone}, "")
	s.Require().Equal(http.StatusOK, r.Status)

	for i := 0; i < 3; i++ {
		r = s.call(http.MethodPost, "/api/v1/auth/consumer/verify-otp", dto.VerifyOTPRequest{Phone: phone, OTP: "0000"}, "")
		s.Equal(http.StatusUnauthorized, r.Status)
		s.Equal("InvalidCredential", r.Code)
	}

	r = s.call(http.MethodPost, "/api/v1/auth/consumer/verify-otp", dto.VerifyOTPRequest{Phone: phone, OTP: testCode}, "")
	s.Equal(http.StatusTooManyRequests, r.Status)

	var attempts int
	s.Require().NoError(s.Postgres.DB.QueryRow(
		`SELECT verify_attempts FROM otp_sessions WHERE phone = $1 AND blocked_until IS NOT NULL`, phone,
	).Scan(&attempts))
	s.Equal(3, attempts)
}

func (s *Suite) TestRefresh_Rotation() {
	data := s.login("consumer")

	r := s.call(http.MethodPost, "/api/v1/auth/consumer/refresh", dto.RefreshTokenRequest{RefreshToken: data.Tokens.RefreshToken}, "")
	s.Require().Equal(http.StatusOK, r.Status, r.Message)

	var rotated struct {
		Tokens tokens `json:"tokens"`
	}
	s.Require().NoError(json.Unmarshal(r.Data, &rotated))
	s.NotEqual(data.Tokens.RefreshToken, rotated.Tokens.RefreshToken)

	r = s.call(http.MethodPost, "/api/v1/auth/consumer/refresh", dto.RefreshTokenRequest{RefreshToken: data.Tokens.RefreshToken}, "")
	s.Equal(http.StatusNotFound, r.Status)

	r = s.call(http.MethodPost, "/api/v1/auth/provider/refresh", dto.RefreshTokenRequest{RefreshToken: rotated.Tokens.RefreshToken}, "")
	s.Equal(http.StatusNotFound, r.Status)
}

func (s *Suite) TestLogout_RevokesAccessToken() {
	data := s.login("provider")

	r := s.call(http.MethodGet, "/api/v1/provider/me", nil, data.Tokens.AccessToken)
	s.Require().Equal(http.StatusOK, r.Status)

	r = s.call(http.MethodGet, "/api/v1/consumer/me", nil, data.Tokens.AccessToken)
	s.Equal(http.StatusUnauthorized, r.Status)

	r = s.call(http.MethodPost, "/api/v1/auth/provider/logout", dto.RefreshTokenRequest{RefreshToken: data.Tokens.RefreshToken}, data.Tokens.AccessToken)
	s.Require().Equal(http.StatusOK, r.Status, r.Message)

	r = s.call(http.MethodGet, "/api/v1/provider/me", nil, data.Tokens.AccessToken)
	s.Equal(http.StatusUnauthorized, r.Status)

	r = s.call(http.MethodPost, "/api/v1/auth/provider/logout", dto.RefreshTokenRequest{RefreshToken: data.Tokens.RefreshToken}, "")
	s.Equal(http.StatusUnauthorized, r.Status)
	s.Equal("InvalidCredential", r.Code)
}
