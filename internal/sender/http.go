package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/leadflow/internal/secrets"
	"github.com/rendis/leadflow/pkg/schema"
)

// DefaultTimeout bounds one provider request when HTTPConfig.Timeout is unset.
const DefaultTimeout = 15 * time.Second

const maxErrorBody = 4 * 1024

// HTTPConfig configures an HTTPSender.
type HTTPConfig struct {
	// Endpoint may embed ${{secrets.KEY}} references, expanded per request.
	Endpoint string
	From     string
	// APIKeySecret names the vault entry sent as a bearer token. Empty disables auth.
	APIKeySecret string
	Timeout      time.Duration
}

// HTTPSender posts emails as JSON to a transactional email API.
type HTTPSender struct {
	config HTTPConfig
	vault  secrets.Vault
	client *http.Client
}

type sendRequest struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html,omitempty"`
	TextBody string `json:"text,omitempty"`
}

type sendResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// NewHTTPSender validates the endpoint and builds a sender. vault may be nil
// when neither the endpoint nor the API key reference secrets.
func NewHTTPSender(cfg HTTPConfig, vault secrets.Vault) (*HTTPSender, error) {
	if cfg.Endpoint == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http sender: endpoint is required")
	}
	if !strings.Contains(cfg.Endpoint, "${{") {
		u, err := url.ParseRequestURI(cfg.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "http sender: invalid endpoint %q", cfg.Endpoint)
		}
	}
	if cfg.APIKeySecret != "" && vault == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "http sender: api key secret configured without a vault")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPSender{
		config: cfg,
		vault:  vault,
		client: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
	}, nil
}

func (s *HTTPSender) Send(ctx context.Context, msg *schema.EmailMessage) (string, error) {
	if err := CheckMessage(msg); err != nil {
		return "", err
	}

	endpoint := s.config.Endpoint
	if s.vault != nil {
		expanded, err := secrets.ExpandRefs(ctx, s.vault, endpoint)
		if err != nil {
			return "", err
		}
		endpoint = expanded
	}

	body, err := json.Marshal(sendRequest{
		From:     s.config.From,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return "", schema.NewError(schema.ErrCodeSendFailure, "encode message").WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", schema.NewError(schema.ErrCodeNonRetryable, "build send request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if s.config.APIKeySecret != "" {
		key, err := secrets.ResolveString(ctx, s.vault, s.config.APIKeySecret)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeVault, "resolve api key %q", s.config.APIKeySecret).WithCause(err)
		}
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeSendFailure, "provider request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", schema.NewError(schema.ErrCodeSendFailure, "read provider response").WithCause(err)
	}
	var parsed sendResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 300 {
		detail := parsed.Error
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		code := schema.ErrCodeSendFailure
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			code = schema.ErrCodeNonRetryable
		}
		return "", schema.NewErrorf(code, "provider returned %d: %s", resp.StatusCode, detail).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}
	return parsed.ID, nil
}

func (s *HTTPSender) String() string {
	return fmt.Sprintf("http(%s)", s.config.Endpoint)
}
