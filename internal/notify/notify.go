// Package notify renders and delivers applicant emails.
//
// Delivery is best-effort: the Dispatcher queues messages and sends them in
// the background so a slow or failing mail provider never holds up a state
// change that has already committed.
package notify

import (
	"context"
	"fmt"
)

type Kind string

const (
	KindApproved Kind = "approved"
	KindRejected Kind = "rejected"
	KindOTP      Kind = "otp"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindApproved, KindRejected, KindOTP:
		return true
	}
	return false
}

// Data carries the template fields. Only the ones relevant to Kind are used.
type Data struct {
	ServiceName    string
	CertificateURL string
	RejectionNote  string
	Code           string
	ValidFor       string
}

// Notifier delivers one rendered message.
type Notifier interface {
	Notify(ctx context.Context, to string, kind Kind, data Data) error
}

// Email is a rendered message ready for a transport.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

func validateRecipient(to string, kind Kind) error {
	if to == "" {
		return fmt.Errorf("notify %s: empty recipient", kind)
	}
	if !kind.IsValid() {
		return fmt.Errorf("notify: unknown kind %q", kind)
	}
	return nil
}
