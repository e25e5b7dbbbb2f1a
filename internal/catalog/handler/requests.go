package handler

import (
	"certdesk/internal/catalog/models"
	"certdesk/internal/catalog/service"
)

type RequirementRequest struct {
	Label    string `json:"label" validate:"required,max=120"`
	Type     string `json:"type" validate:"omitempty,oneof=text file"`
	Required bool   `json:"required"`
}

// ServiceRequest is the body of POST and PUT /admin/services.
type ServiceRequest struct {
	Name         string               `json:"name" validate:"required,max=200"`
	Eligibility  string               `json:"eligibility" validate:"required,max=2000"`
	Requirements []RequirementRequest `json:"requirements" validate:"required,max=50,dive"`

	draft service.Draft
}

// Validate converts the DTO into a draft. Model invariants (unique labels)
// are enforced by the service.
func (r *ServiceRequest) Validate() error {
	reqs := make([]models.RequirementDescriptor, 0, len(r.Requirements))
	for _, req := range r.Requirements {
		kind, err := models.ParseRequirementKind(req.Type)
		if err != nil {
			return err
		}
		reqs = append(reqs, models.RequirementDescriptor{
			Label:    req.Label,
			Kind:     kind,
			Required: req.Required,
		})
	}
	r.draft = service.Draft{
		Name:         r.Name,
		Eligibility:  r.Eligibility,
		Requirements: reqs,
	}
	return nil
}

func (r *ServiceRequest) Draft() service.Draft {
	return r.draft
}
