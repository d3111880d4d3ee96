package models

import (
	"strings"
	"time"

	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
)

// Conversion binds a user to the first referral link they converted
// through. It is immutable once created: the commission rate is captured at
// attribution time and never re-read, and there is never more than one
// conversion per user.
//
// CafeID and PartnerID are denormalized from the link at attribution time so
// payout aggregation reads a single relation. Like the rate, they reflect
// ownership at the moment of attribution.
type Conversion struct {
	ID               domain.ConversionID `json:"id"`
	UserID           string              `json:"user_id"`
	LinkID           domain.LinkID       `json:"link_id"`
	CafeID           domain.CafeID       `json:"cafe_id"`
	PartnerID        domain.PartnerID    `json:"partner_id"`
	IPHash           string              `json:"ip_hash"`
	UAHash           string              `json:"ua_hash"`
	Amount           float64             `json:"amount"`
	CommissionRate   float64             `json:"commission_rate"`
	CommissionAmount float64             `json:"commission_amount"`
	Metadata         map[string]string   `json:"metadata,omitempty"`
	AttributedAt     time.Time           `json:"attributed_at"`
}

// NewConversion validates inputs and derives the commission amount.
func NewConversion(
	id domain.ConversionID,
	userID string,
	linkID domain.LinkID,
	cafeID domain.CafeID,
	partnerID domain.PartnerID,
	ipHash, uaHash string,
	amount, rate float64,
	metadata map[string]string,
	now time.Time,
) (*Conversion, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if amount < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "amount cannot be negative")
	}
	return &Conversion{
		ID:               id,
		UserID:           userID,
		LinkID:           linkID,
		CafeID:           cafeID,
		PartnerID:        partnerID,
		IPHash:           ipHash,
		UAHash:           uaHash,
		Amount:           amount,
		CommissionRate:   rate,
		CommissionAmount: amount * rate,
		Metadata:         metadata,
		AttributedAt:     now,
	}, nil
}
