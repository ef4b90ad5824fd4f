package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// SMSGateway delivers one text message. Implementations make a single attempt.
type SMSGateway interface {
	Send(ctx context.Context, phone, text string) error
}

// EmailGateway delivers one e-mail. Implementations make a single attempt.
type EmailGateway interface {
	Send(ctx context.Context, address, subject, body string) error
}

// IsPermanent reports whether the gateway rejected the message outright, as
// opposed to failing in a way that might succeed later.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Mask hides most of a phone number or e-mail local part for logs.
func Mask(destination string) string {
	if destination == "" {
		return ""
	}
	if at := strings.LastIndex(destination, "@"); at > 0 {
		local := []rune(destination[:at])
		return string(local[:1]) + strings.Repeat("*", len(local)-1) + destination[at:]
	}
	runes := []rune(destination)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
