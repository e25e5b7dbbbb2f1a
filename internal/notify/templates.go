package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"certdesk/pkg/email"
)

const systemName = "Certificate System"

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"year": func() int { return time.Now().Year() },
}).ParseFS(templateFS, "templates/*.html"))

var subjects = map[Kind]string{
	KindApproved: "Certificate Approved - " + systemName,
	KindRejected: "Certificate Rejected - " + systemName,
	KindOTP:      "Verification Code - " + systemName,
}

var plainText = map[Kind]string{
	KindApproved: "Your certificate has been approved. Download it at %s",
	KindRejected: "Your certificate request was rejected. Reason: %s",
	KindOTP:      "Your verification code is %s",
}

// Render builds the email for kind. Values are HTML-escaped by html/template.
func Render(to string, kind Kind, data Data) (Email, error) {
	if err := validateRecipient(to, kind); err != nil {
		return Email{}, err
	}

	view := struct {
		Data
		Greeting string
	}{Data: data, Greeting: email.GreetingName(to)}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, string(kind)+".html", view); err != nil {
		return Email{}, fmt.Errorf("render %s email: %w", kind, err)
	}

	var text string
	switch kind {
	case KindApproved:
		text = fmt.Sprintf(plainText[kind], data.CertificateURL)
	case KindRejected:
		text = fmt.Sprintf(plainText[kind], data.RejectionNote)
	case KindOTP:
		text = fmt.Sprintf(plainText[kind], data.Code)
	}

	return Email{
		To:      to,
		Subject: subjects[kind],
		HTML:    buf.String(),
		Text:    text,
	}, nil
}
