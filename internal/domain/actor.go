package domain

import "strings"

// ActorContext identifies who is acting and on behalf of which family. It is
// passed explicitly into every repository call.
type ActorContext struct {
	ActorID   string `json:"actorId"`
	ActorName string `json:"actorName"`
	TenantID  string `json:"tenantId"`
}

func (a ActorContext) Validate() error {
	if strings.TrimSpace(a.ActorID) == "" {
		return Validation("ACTOR_REQUIRED", "actor id is required", nil)
	}
	if strings.TrimSpace(a.TenantID) == "" {
		return Validation("TENANT_REQUIRED", "tenant id is required", nil)
	}
	return nil
}

// DisplayName falls back to the actor id when no name is known.
func (a ActorContext) DisplayName() string {
	if name := strings.TrimSpace(a.ActorName); name != "" {
		return name
	}
	return a.ActorID
}
