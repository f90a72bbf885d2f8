// Package audit defines the audit event model and the publishers that carry
// events to their sinks. Domain services emit events; transport and storage
// never construct them on their own.
package audit

import (
	"time"

	id "contactguard/pkg/domain"
)

// Category classifies audit events by their primary purpose, enabling
// different retention policies and routing per category.
type Category string

const (
	// CategoryCompliance covers events with legal significance: consent to
	// store contact data, record deactivation, bulk imports of personal data.
	CategoryCompliance Category = "compliance"

	// CategorySecurity covers events that feed monitoring and forensics:
	// collisions, rate limiting, canary issuance.
	CategorySecurity Category = "security"

	// CategoryOperations covers routine activity useful for debugging. Can be
	// sampled or dropped under load.
	CategoryOperations Category = "operations"
)

// Action names the audited operation.
type Action string

const (
	ActionSubjectCreated     Action = "subject_created"
	ActionSubjectEnriched    Action = "subject_enriched"
	ActionSubjectConfirmed   Action = "subject_confirmed"
	ActionSubjectDeactivated Action = "subject_deactivated"
	ActionCollisionRejected  Action = "collision_rejected"
	ActionQuotaRejected      Action = "quota_rejected"
	ActionRateLimited        Action = "rate_limited"
	ActionCanaryIssued       Action = "canary_issued"
	ActionBulkImportFinished Action = "bulk_import_finished"
)

var actionCategories = map[Action]Category{
	ActionSubjectCreated:     CategoryCompliance,
	ActionSubjectDeactivated: CategoryCompliance,
	ActionBulkImportFinished: CategoryCompliance,

	ActionCollisionRejected: CategorySecurity,
	ActionQuotaRejected:     CategorySecurity,
	ActionRateLimited:       CategorySecurity,
	ActionCanaryIssued:      CategorySecurity,

	ActionSubjectEnriched:  CategoryOperations,
	ActionSubjectConfirmed: CategoryOperations,
}

// Category returns the category of an action. Unknown actions default to
// CategoryOperations.
func (a Action) Category() Category {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event is one audited occurrence. It carries identifiers and outcome
// structure only; contact plaintext never enters an event.
type Event struct {
	Category  Category      `json:"category"`
	Action    Action        `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
	UnitID    id.UnitID     `json:"unit_id,omitempty"`
	SubjectID string        `json:"subject_id,omitempty"`
	Operator  id.OperatorID `json:"operator_id,omitempty"`
	// Outcome is "accepted", "rejected", or a short action-specific verdict.
	Outcome string `json:"outcome,omitempty"`
	// Reason holds structured rejection detail, e.g. conflicting field names.
	Reason string `json:"reason,omitempty"`
	// Fingerprint is the caller's pseudonymous fingerprint, never raw identity.
	Fingerprint string `json:"fingerprint,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}
