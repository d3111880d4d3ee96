// Package domain defines typed identifiers shared across the module.
//
// Each entity gets its own UUID-backed type so the compiler rejects
// cross-entity ID mix-ups (passing a CafeID where a PartnerID is expected
// fails to compile). Parse functions validate at trust boundaries: IDs must
// be valid, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "refledger/pkg/domain-errors"
)

type (
	// PartnerID identifies a partner organization receiving commissions.
	PartnerID uuid.UUID
	// CafeID identifies a sub-unit of a partner carrying a commission rate.
	CafeID uuid.UUID
	// LinkID identifies a trackable referral link.
	LinkID uuid.UUID
	// ConversionID identifies an attribution record.
	ConversionID uuid.UUID
	// PayoutID identifies a payout ledger entry.
	PayoutID uuid.UUID
	// AuditLogID identifies an audit log record.
	AuditLogID uuid.UUID
)

func (id PartnerID) String() string    { return uuid.UUID(id).String() }
func (id CafeID) String() string       { return uuid.UUID(id).String() }
func (id LinkID) String() string       { return uuid.UUID(id).String() }
func (id ConversionID) String() string { return uuid.UUID(id).String() }
func (id PayoutID) String() string     { return uuid.UUID(id).String() }
func (id AuditLogID) String() string   { return uuid.UUID(id).String() }

func (id PartnerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CafeID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id LinkID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ConversionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PayoutID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AuditLogID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// NewPartnerID allocates a fresh partner ID.
func NewPartnerID() PartnerID { return PartnerID(uuid.New()) }

// NewCafeID allocates a fresh cafe ID.
func NewCafeID() CafeID { return CafeID(uuid.New()) }

// NewLinkID allocates a fresh link ID.
func NewLinkID() LinkID { return LinkID(uuid.New()) }

// NewConversionID allocates a fresh conversion ID.
func NewConversionID() ConversionID { return ConversionID(uuid.New()) }

// NewPayoutID allocates a fresh payout ID.
func NewPayoutID() PayoutID { return PayoutID(uuid.New()) }

// NewAuditLogID allocates a fresh audit log ID.
func NewAuditLogID() AuditLogID { return AuditLogID(uuid.New()) }

// ParsePartnerID parses and validates a partner ID string.
func ParsePartnerID(s string) (PartnerID, error) {
	u, err := parseUUID(s, "partner_id")
	return PartnerID(u), err
}

// ParseCafeID parses and validates a cafe ID string.
func ParseCafeID(s string) (CafeID, error) {
	u, err := parseUUID(s, "cafe_id")
	return CafeID(u), err
}

// ParseLinkID parses and validates a link ID string.
func ParseLinkID(s string) (LinkID, error) {
	u, err := parseUUID(s, "link_id")
	return LinkID(u), err
}

// ParseConversionID parses and validates a conversion ID string.
func ParseConversionID(s string) (ConversionID, error) {
	u, err := parseUUID(s, "conversion_id")
	return ConversionID(u), err
}

// ParsePayoutID parses and validates a payout ID string.
func ParsePayoutID(s string) (PayoutID, error) {
	u, err := parseUUID(s, "payout_id")
	return PayoutID(u), err
}

// JSON and query payloads carry IDs as canonical UUID strings. These
// methods are not promoted from uuid.UUID because the IDs are defined
// types, so each type implements encoding.TextMarshaler explicitly.

func (id PartnerID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id CafeID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id LinkID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id ConversionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id PayoutID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id AuditLogID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *PartnerID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = PartnerID(u)
	return nil
}

func (id *CafeID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = CafeID(u)
	return nil
}

func (id *LinkID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = LinkID(u)
	return nil
}

func (id *ConversionID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ConversionID(u)
	return nil
}

func (id *PayoutID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = PayoutID(u)
	return nil
}

func (id *AuditLogID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = AuditLogID(u)
	return nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be the nil UUID", field)
	}
	return u, nil
}
