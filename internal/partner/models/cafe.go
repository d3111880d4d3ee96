package models

import (
	"strings"
	"time"

	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
)

// CafeStatus is the lifecycle status of a cafe.
type CafeStatus string

const (
	CafeStatusActive   CafeStatus = "ACTIVE"
	CafeStatusInactive CafeStatus = "INACTIVE"
)

func (s CafeStatus) Valid() bool {
	return s == CafeStatusActive || s == CafeStatusInactive
}

// Cafe is a sub-unit of a partner carrying its own commission rate. The rate
// is read at attribution time and captured on the conversion; changing it
// never reprices existing conversions.
//
// Invariants:
//   - CommissionRate is a fraction in [0, 1]
//   - Every cafe belongs to exactly one partner, fixed at creation
type Cafe struct {
	ID             domain.CafeID    `json:"id"`
	PartnerID      domain.PartnerID `json:"partner_id"`
	Name           string           `json:"name"`
	CommissionRate float64          `json:"commission_rate"`
	Status         CafeStatus       `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (c *Cafe) IsActive() bool {
	return c.Status == CafeStatusActive
}

// ValidateRate checks the commission rate invariant.
func ValidateRate(rate float64) error {
	if rate < 0 || rate > 1 {
		return dErrors.New(dErrors.CodeValidation, "commission rate must be a fraction between 0 and 1")
	}
	return nil
}

// ApplyUpdate mutates rate and/or status. Nil fields keep current values.
// Callers validate before applying.
func (c *Cafe) ApplyUpdate(rate *float64, status *CafeStatus, now time.Time) {
	if rate != nil {
		c.CommissionRate = *rate
	}
	if status != nil {
		c.Status = *status
	}
	c.UpdatedAt = now
}

// NewCafe validates invariants and constructs an active cafe.
func NewCafe(id domain.CafeID, partnerID domain.PartnerID, name string, rate float64, now time.Time) (*Cafe, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "cafe name cannot be empty")
	}
	if partnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "cafe must belong to a partner")
	}
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	return &Cafe{
		ID:             id,
		PartnerID:      partnerID,
		Name:           name,
		CommissionRate: rate,
		Status:         CafeStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
