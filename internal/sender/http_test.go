package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

// memVault is a plaintext Vault for sender tests.
type memVault map[string][]byte

func (v memVault) Resolve(_ context.Context, key string) ([]byte, error) {
	val, ok := v[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return val, nil
}
func (v memVault) Store(_ context.Context, key string, value []byte) error {
	v[key] = value
	return nil
}
func (v memVault) Delete(_ context.Context, key string) error {
	delete(v, key)
	return nil
}
func (v memVault) List(context.Context) ([]string, error) { return nil, nil }

func testMessage() *schema.EmailMessage {
	return &schema.EmailMessage{
		To:       "ana@example.com",
		Subject:  "Welcome Ana",
		HTMLBody: "<p>Hi</p>",
		TextBody: "Hi",
	}
}

func TestHTTPSender_Success(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	s, err := NewHTTPSender(HTTPConfig{
		Endpoint:     srv.URL,
		From:         "crm@example.com",
		APIKeySecret: "sender.api_key",
	}, memVault{"sender.api_key": []byte("sk-123\n")})
	require.NoError(t, err)

	id, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "Bearer sk-123", auth)
	assert.Equal(t, "crm@example.com", got.From)
	assert.Equal(t, "ana@example.com", got.To)
	assert.Equal(t, "Welcome Ana", got.Subject)
	assert.Equal(t, "<p>Hi</p>", got.HTMLBody)
}

func TestHTTPSender_ProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"client error", http.StatusUnprocessableEntity, `{"error":"mailbox does not exist"}`, schema.ErrCodeNonRetryable, "provider returned 422: mailbox does not exist"},
		{"server error", http.StatusBadGateway, `upstream down`, schema.ErrCodeSendFailure, "provider returned 502: upstream down"},
		{"rate limited", http.StatusTooManyRequests, ``, schema.ErrCodeSendFailure, "provider returned 429: Too Many Requests"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s, err := NewHTTPSender(HTTPConfig{Endpoint: srv.URL}, nil)
			require.NoError(t, err)

			_, err = s.Send(context.Background(), testMessage())
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, tt.wantCode))
			var lfErr *schema.LeadflowError
			require.ErrorAs(t, err, &lfErr)
			assert.Equal(t, tt.wantMsg, lfErr.Message)
		})
	}
}

func TestHTTPSender_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	s, err := NewHTTPSender(HTTPConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = s.Send(context.Background(), testMessage())
	assert.True(t, schema.IsCode(err, schema.ErrCodeSendFailure))
}

func TestHTTPSender_EndpointSecretRef(t *testing.T) {
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.URL.Query().Get("token")
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	s, err := NewHTTPSender(HTTPConfig{Endpoint: srv.URL + "/send?token=${{secrets.mail.token}}"},
		memVault{"mail.token": []byte("t-9")})
	require.NoError(t, err)

	_, err = s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "t-9", token)
}

func TestHTTPSender_MissingAPIKey(t *testing.T) {
	s, err := NewHTTPSender(HTTPConfig{Endpoint: "https://mail.example.com", APIKeySecret: "absent"}, memVault{})
	require.NoError(t, err)

	_, err = s.Send(context.Background(), testMessage())
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

func TestNewHTTPSender_Config(t *testing.T) {
	_, err := NewHTTPSender(HTTPConfig{}, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = NewHTTPSender(HTTPConfig{Endpoint: "ftp://mail"}, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = NewHTTPSender(HTTPConfig{Endpoint: "https://mail.example.com", APIKeySecret: "k"}, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCheckMessage(t *testing.T) {
	assert.NoError(t, CheckMessage(testMessage()))

	bad := []*schema.EmailMessage{
		nil,
		{Subject: "x", TextBody: "x"},
		{To: "not an address", TextBody: "x"},
		{To: "ana@example.com", Subject: "empty"},
	}
	for _, msg := range bad {
		assert.True(t, schema.IsCode(CheckMessage(msg), schema.ErrCodeNonRetryable))
	}
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(nil)
	id, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.Send(context.Background(), &schema.EmailMessage{})
	assert.Error(t, err)
}
