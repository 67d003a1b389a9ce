package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
)

// HTTPIssuer 调用远端 RTC 提供方的令牌接口。
// 网络错误与 5xx 会按退避重试，4xx 视为不可恢复。
type HTTPIssuer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	attempts uint
	delay    time.Duration
}

// NewHTTPIssuer 创建远端签发器
func NewHTTPIssuer(endpoint, apiKey string, timeout time.Duration, attempts uint) *HTTPIssuer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if attempts == 0 {
		attempts = 3
	}
	return &HTTPIssuer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		delay:    200 * time.Millisecond,
	}
}

type issueRequest struct {
	Room              string `json:"room"`
	ParticipantNumber uint32 `json:"participant_number"`
	Identity          string `json:"identity,omitempty"`
	Role              string `json:"role"`
	TTLSeconds        int64  `json:"ttl_seconds"`
}

type issueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StatusError 是提供方返回的非 2xx 响应。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rtc: provider returned %d: %s", e.StatusCode, e.Body)
}

// Issue 请求凭证
func (i *HTTPIssuer) Issue(ctx context.Context, req domain.CredentialRequest) (*domain.Credential, error) {
	body, err := json.Marshal(issueRequest{
		Room:              req.RoomName,
		ParticipantNumber: req.ParticipantNumber,
		Identity:          req.Identity,
		Role:              string(req.Role),
		TTLSeconds:        int64(req.TTL / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("rtc: failed to marshal issue request: %w", err)
	}

	var cred *domain.Credential
	err = retry.Do(func() error {
		c, err := i.issueOnce(ctx, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode < 500 {
				return retry.Unrecoverable(err)
			}
			return err
		}
		cred = c
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(i.attempts),
		retry.Delay(i.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logrus.WithFields(logrus.Fields{"room": req.RoomName, "attempt": n + 1}).WithError(err).Warn("Retrying credential request")
		}),
	)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (i *HTTPIssuer) issueOnce(ctx context.Context, body []byte) (*domain.Credential, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("rtc: failed to build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if i.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+i.apiKey)
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rtc: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("rtc: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out issueResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("rtc: failed to decode response: %w", err)
	}
	if out.Token == "" || out.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("rtc: provider response missing token or expiry")
	}
	return &domain.Credential{Token: out.Token, ExpiresAt: out.ExpiresAt.UTC()}, nil
}
