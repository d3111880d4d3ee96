package models

import (
	"strings"
	"time"

	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
)

// LinkStatus is the stored lifecycle status of a link. Expiry is evaluated
// dynamically against ExpiresAt on every resolution; a stored ACTIVE status
// never overrides a past expiry timestamp.
type LinkStatus string

const (
	LinkStatusActive  LinkStatus = "ACTIVE"
	LinkStatusExpired LinkStatus = "EXPIRED"
	LinkStatusRevoked LinkStatus = "REVOKED"
)

// UTM carries the campaign parameters a link was issued with.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
}

// Link is a trackable short code belonging to a cafe.
//
// Invariants:
//   - ShortCode is unique across all links
//   - Clicks only increases, never decrements
//   - ExpiresAt is fixed at creation (now + TTL)
type Link struct {
	ID        domain.LinkID `json:"id"`
	CafeID    domain.CafeID `json:"cafe_id"`
	ShortCode string        `json:"short_code"`
	TargetURL string        `json:"target_url"`
	UTM       UTM           `json:"utm"`
	Clicks    int64         `json:"clicks"`
	Status    LinkStatus    `json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsExpired evaluates expiry against the given time, independent of the
// stored status.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// Resolvable checks whether the link can serve a redirect at the given time.
func (l *Link) Resolvable(now time.Time) error {
	if l.Status != LinkStatusActive {
		return dErrors.Newf(dErrors.CodeConflict, "link is %s", l.Status)
	}
	if l.IsExpired(now) {
		return dErrors.New(dErrors.CodeConflict, "link has expired")
	}
	return nil
}

// NewLink validates invariants and constructs an active link.
func NewLink(id domain.LinkID, cafeID domain.CafeID, shortCode, targetURL string, utm UTM, ttlDays int, now time.Time) (*Link, error) {
	targetURL = strings.TrimSpace(targetURL)
	if targetURL == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "target URL cannot be empty")
	}
	if ttlDays <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "link TTL must be at least one day")
	}
	if shortCode == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "short code cannot be empty")
	}
	return &Link{
		ID:        id,
		CafeID:    cafeID,
		ShortCode: shortCode,
		TargetURL: targetURL,
		UTM:       utm,
		Clicks:    0,
		Status:    LinkStatusActive,
		ExpiresAt: now.AddDate(0, 0, ttlDays),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ClickResult is what a recorded click hands downstream: the resolved link
// and the pseudonymized identity material attribution will match on.
type ClickResult struct {
	Link   *Link  `json:"link"`
	Clicks int64  `json:"clicks"`
	IPHash string `json:"ip_hash"`
	UAHash string `json:"ua_hash"`
}
