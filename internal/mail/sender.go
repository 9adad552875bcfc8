package mail

import "context"

// Message is one outbound HTML email.
type Message struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	HTML    string
	// Tags are provider metadata (SES message tags, Resend tags).
	Tags map[string]string
	// IdempotencyKey lets providers that support it collapse duplicate sends.
	IdempotencyKey string
}

// Sender is the outbound Email Transport.
type Sender interface {
	// Send returns the transport message id.
	Send(ctx context.Context, msg Message) (string, error)
}
