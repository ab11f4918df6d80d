package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	accountSID string
	from       string
	client     *twilio.RestClient
}

// NewTwilioSender builds a sender on the Twilio REST client. A baseURL other
// than the public API host redirects every request there, which is how tests
// and regional proxies reach it.
func NewTwilioSender(accountSID, authToken, from, baseURL string, timeout time.Duration) *TwilioSender {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   accountSID,
		Password:   authToken,
		AccountSid: accountSID,
	})

	httpClient := &http.Client{Timeout: timeout}
	if base, err := url.Parse(strings.TrimRight(baseURL, "/")); err == nil && base.Host != "" {
		httpClient.Transport = &baseURLTransport{base: base, next: http.DefaultTransport}
	}
	if c, ok := rest.Client.(*twilioclient.Client); ok {
		c.HTTPClient = httpClient
	}

	return &TwilioSender{
		accountSID: accountSID,
		from:       from,
		client:     rest,
	}
}

type sendResult struct {
	sid string
	err error
}

// Send creates the message and returns its sid. The REST client takes no
// context, so ctx only bounds how long the caller waits; the request itself
// is bounded by the HTTP client timeout.
func (s *TwilioSender) Send(ctx context.Context, phone, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetPathAccountSid(s.accountSID)
	params.SetTo(phone)
	params.SetFrom(s.from)
	params.SetBody(message)

	done := make(chan sendResult, 1)
	go func() {
		sid, err := s.create(params)
		done <- sendResult{sid: sid, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("twilio send abandoned: %w", ctx.Err())
	case res := <-done:
		return res.sid, res.err
	}
}

func (s *TwilioSender) create(params *twilioapi.CreateMessageParams) (string, error) {
	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			return "", fmt.Errorf("twilio returned status %d (code %d): %s", restErr.Status, restErr.Code, restErr.Message)
		}
		return "", fmt.Errorf("failed to send twilio message: %w", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", fmt.Errorf("twilio response missing message sid")
	}
	return *resp.Sid, nil
}

// baseURLTransport points requests built for the public API host at base.
type baseURLTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.base.Scheme
	r.URL.Host = t.base.Host
	r.URL.Path = t.base.Path + req.URL.Path
	r.Host = t.base.Host
	return t.next.RoundTrip(r)
}
