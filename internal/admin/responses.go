package admin

import (
	"time"

	"certdesk/pkg/platform/audit"
)

// AuditLogResponse is one audit entry as shown to administrators.
type AuditLogResponse struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id,omitempty"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Action    string    `json:"action"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditLogListResponse wraps the newest-first entries.
type AuditLogListResponse struct {
	Logs  []AuditLogResponse `json:"logs"`
	Total int                `json:"total"`
}

func toAuditLogList(entries []audit.Entry) AuditLogListResponse {
	logs := make([]AuditLogResponse, 0, len(entries))
	for _, e := range entries {
		resp := AuditLogResponse{
			ID:        e.ID.String(),
			ActorID:   e.ActorID.String(),
			ActorRole: e.ActorRole,
			Action:    e.Action,
			Message:   e.Message,
			Timestamp: e.Timestamp,
		}
		if e.RequestID != nil {
			resp.RequestID = e.RequestID.String()
		}
		logs = append(logs, resp)
	}
	return AuditLogListResponse{Logs: logs, Total: len(logs)}
}
