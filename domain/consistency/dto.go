package consistency

import "github.com/emergent-company/tether/domain/relationships"

// AuditRequest starts an audit run.
type AuditRequest struct {
	DryRun    bool `json:"dryRun"`
	BatchSize int  `json:"batchSize" validate:"omitempty,min=1,max=10000"`
	// Archive stores the report in object storage when it is configured.
	Archive bool `json:"archive"`
}

// RepairPairRequest repairs one pair on demand.
type RepairPairRequest struct {
	OwnerID  string               `json:"ownerId" validate:"required"`
	TargetID string               `json:"targetId" validate:"required,nefield=OwnerID"`
	Intent   relationships.Status `json:"intent" validate:"omitempty,oneof=accepted removed"`
}
