package domain

import "time"

// End reasons recorded on impersonation sessions.
const (
	EndReasonManual = "manual"
)

// ImpersonationSession records an admin acting as another user.
// A session is active until EndedAt is set; ended is terminal.
type ImpersonationSession struct {
	ID                string     `json:"id"`
	AdminEmail        string     `json:"admin_email"`
	ImpersonatedEmail string     `json:"impersonated_email"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	EndReason         *string    `json:"end_reason,omitempty"`
	IPAddress         string     `json:"ip_address,omitempty"`
	UserAgent         string     `json:"user_agent,omitempty"`
}

// Active reports whether the session has not been ended.
func (s *ImpersonationSession) Active() bool {
	return s.EndedAt == nil
}
