package handlers

import (
	"github.com/sjperalta/fintera-sign-api/internal/services"
)

// Handlers holds all handler instances
type Handlers struct {
	Health           *HealthHandler
	Auth             *AuthHandler
	SignatureRequest *SignatureRequestHandler
	Audit            *AuditHandler
	PublicSign       *PublicSignHandler
	Job              *JobHandler
}

// NewHandlers creates all handler instances; deps feed the health endpoint
func NewHandlers(svcs *services.Services, deps ...DependencyCheck) *Handlers {
	return &Handlers{
		Health:           NewHealthHandler(deps...),
		Auth:             NewAuthHandler(svcs.Auth),
		SignatureRequest: NewSignatureRequestHandler(svcs.SignatureRequest),
		Audit:            NewAuditHandler(svcs.AuditTrail),
		PublicSign:       NewPublicSignHandler(svcs.SignatureRequest, svcs.Export),
		Job:              NewJobHandler(svcs.Job),
	}
}
