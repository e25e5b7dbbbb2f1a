package handler

import (
	"strings"

	"certdesk/internal/certrequest/models"
	dErrors "certdesk/pkg/domain-errors"
	"certdesk/pkg/platform/httputil"
)

// DecisionRequest is the form body of POST /staff/requests/{id}/decision.
// An approval carries either an uploaded "certificate" file or a
// certificate_url already held in object storage.
type DecisionRequest struct {
	Status         string `json:"status" validate:"required,oneof=approved rejected in_process submitted"`
	RejectionNote  string `json:"rejection_note" validate:"max=2000"`
	CertificateURL string `json:"certificate_url" validate:"omitempty,url,max=2048"`

	decision models.Decision
}

func (r *DecisionRequest) Validate() error {
	if err := httputil.ValidateStruct(r); err != nil {
		return err
	}
	d, err := models.ParseDecision(r.Status)
	if err != nil {
		return err
	}
	r.decision = d
	r.RejectionNote = strings.TrimSpace(r.RejectionNote)
	if d == models.DecisionRejected && r.RejectionNote == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection_note is required to reject")
	}
	return nil
}

func (r *DecisionRequest) Decision() models.Decision {
	return r.decision
}

func (r *DecisionRequest) Payload(certificateURL string) models.DecisionPayload {
	if certificateURL == "" {
		certificateURL = strings.TrimSpace(r.CertificateURL)
	}
	return models.DecisionPayload{CertificateURL: certificateURL, Note: r.RejectionNote}
}
