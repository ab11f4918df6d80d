package acceptance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/prperemyshlev/servicehub-auth/internal/dto"
)

// post is safe to call from several goroutines; it reports failures
// instead of asserting on them.
func (s *Suite) post(path string, body interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	resp, err := http.Post(s.BaseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *Suite) TestSendOTP_ParallelRequestsIssueOnce() {
	const workers = 10

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses []int
		errs     []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			status, err := s.post("/api/v1/auth/consumer/send-otp", dto.PhoneRequest{Phone: phone})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			statuses = append(statuses, status)
		}()
	}
	close(start)
	wg.Wait()

	s.Require().Empty(errs)

	var ok, limited int
	for _, status := range statuses {
		switch status {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		}
	}
	s.Equal(1, ok)
	s.Equal(workers-1, limited)

	var sendCount int
	s.Require().NoError(s.Postgres.DB.QueryRow(
		`SELECT send_count FROM otp_sessions WHERE phone = $1`, phone,
	).Scan(&sendCount))
	s.Equal(1, sendCount)

	s.App.WaitDispatches()
	s.Len(s.SMS.sentTo(phone), 1)
}
