// Package canary fabricates watermark contact records for leak attribution.
// A watermark is issued per (operator, scope) and merged into that operator's
// export or view at presentation time only; it never enters the real subject
// table. The fabricated values are syntactically indistinguishable from real
// ones, and the honorific carries homoglyph substitutions that survive a
// copy-paste but differ under byte comparison, so a leaked listing identifies
// the operator and scope that produced it.
package canary

import (
	"time"

	id "contactguard/pkg/domain"
)

// Watermark is one issued canary record.
type Watermark struct {
	ID       id.CanaryID
	Operator id.OperatorID
	// Scope names the export slice the watermark covers, e.g. an entrance.
	Scope  string
	UnitID id.UnitID

	// Fabricated contact values. Never normalize or lower-case these on
	// display; the byte-level quirks are the attribution signal.
	Phone       string
	MessengerID string
	Honorific   string

	CreatedAt time.Time
}
