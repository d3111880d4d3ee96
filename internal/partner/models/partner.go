package models

import (
	"strings"
	"time"

	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
)

// PartnerStatus is the administrative lifecycle status of a partner.
type PartnerStatus string

const (
	PartnerStatusActive    PartnerStatus = "ACTIVE"
	PartnerStatusInactive  PartnerStatus = "INACTIVE"
	PartnerStatusSuspended PartnerStatus = "SUSPENDED"
)

// Valid reports whether s names a known status.
func (s PartnerStatus) Valid() bool {
	switch s {
	case PartnerStatusActive, PartnerStatusInactive, PartnerStatusSuspended:
		return true
	}
	return false
}

// Partner is an organization receiving commissions. Partners are created by
// administrative action and never physically deleted; status is the only
// lifecycle control.
//
// Invariants:
//   - BusinessNumber is non-empty and unique across all partners
//   - Status is one of ACTIVE, INACTIVE, SUSPENDED
//   - CreatedAt is immutable after construction
type Partner struct {
	ID             domain.PartnerID `json:"id"`
	Name           string           `json:"name"`
	BusinessNumber string           `json:"business_number"`
	ContactEmail   string           `json:"contact_email"`
	Status         PartnerStatus    `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (p *Partner) IsActive() bool {
	return p.Status == PartnerStatusActive
}

// CanTransitionTo checks an administrative status change. Any move between
// distinct known statuses is allowed; a no-op transition is rejected so the
// audit trail never records a change that changed nothing.
func (p *Partner) CanTransitionTo(next PartnerStatus) error {
	if !next.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown partner status %q", next)
	}
	if p.Status == next {
		return dErrors.Newf(dErrors.CodeConflict, "partner is already %s", next)
	}
	return nil
}

// ApplyStatus transitions the partner. Call CanTransitionTo first.
func (p *Partner) ApplyStatus(next PartnerStatus, now time.Time) {
	p.Status = next
	p.UpdatedAt = now
}

// NewPartner validates invariants and constructs an active partner.
func NewPartner(id domain.PartnerID, name, businessNumber, contactEmail string, now time.Time) (*Partner, error) {
	name = strings.TrimSpace(name)
	businessNumber = strings.TrimSpace(businessNumber)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "partner name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "partner name must be 128 characters or less")
	}
	if businessNumber == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "business number cannot be empty")
	}
	return &Partner{
		ID:             id,
		Name:           name,
		BusinessNumber: businessNumber,
		ContactEmail:   strings.TrimSpace(contactEmail),
		Status:         PartnerStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
