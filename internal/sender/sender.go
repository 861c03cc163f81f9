// Package sender delivers rendered emails to a provider.
package sender

import (
	"context"
	"net/mail"

	"github.com/rendis/leadflow/pkg/schema"
)

// Sender delivers one rendered email. It returns the provider's message ID on
// success. Failures carry the provider's error detail in the error message.
type Sender interface {
	Send(ctx context.Context, msg *schema.EmailMessage) (string, error)
}

// Func adapts a plain function to the Sender interface.
type Func func(ctx context.Context, msg *schema.EmailMessage) (string, error)

func (f Func) Send(ctx context.Context, msg *schema.EmailMessage) (string, error) {
	return f(ctx, msg)
}

// CheckMessage rejects messages no provider could deliver.
func CheckMessage(msg *schema.EmailMessage) error {
	if msg == nil {
		return schema.NewError(schema.ErrCodeNonRetryable, "no message to send")
	}
	if msg.To == "" {
		return schema.NewError(schema.ErrCodeNonRetryable, "recipient address is empty")
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return schema.NewErrorf(schema.ErrCodeNonRetryable, "invalid recipient address %q", msg.To).WithCause(err)
	}
	if msg.HTMLBody == "" && msg.TextBody == "" {
		return schema.NewError(schema.ErrCodeNonRetryable, "message has no body")
	}
	return nil
}
