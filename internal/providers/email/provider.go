package email

import (
	"context"
	"errors"
)

// ErrNotConfigured means host, sender or credentials are missing. Retrying
// cannot help until the configuration changes.
var ErrNotConfigured = errors.New("mail_not_configured")

// ErrMessageRejected means the relay refused the message body with a
// permanent (5xx) reply after accepting its recipients.
var ErrMessageRejected = errors.New("message_rejected")

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	MessageID   string
	To          []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Result reports what the relay did with each recipient.
type Result struct {
	Accepted []string
	Rejected []string
	Response string
}

type Provider interface {
	// Verify checks configuration and that the relay accepts a session.
	Verify(ctx context.Context) error
	// Send returns a Result even when every recipient was rejected; an error
	// means the transport itself failed.
	Send(ctx context.Context, msg Message) (Result, error)
}
