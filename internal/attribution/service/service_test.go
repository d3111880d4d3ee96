package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	attrstore "refledger/internal/attribution/store"
	linkmodels "refledger/internal/link/models"
	linkstore "refledger/internal/link/store"
	partnermodels "refledger/internal/partner/models"
	partnerstore "refledger/internal/partner/store"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
	"refledger/pkg/platform/audit"
	auditmem "refledger/pkg/platform/audit/store/memory"
	"refledger/pkg/platform/fingerprint"
	"refledger/pkg/requestcontext"
)

type AttributionServiceSuite struct {
	suite.Suite
	conversions *attrstore.InMemoryConversionStore
	links       *linkstore.InMemoryLinkStore
	cafes       *partnerstore.InMemoryCafeStore
	auditlog    *auditmem.InMemoryStore
	service     *Service
	cafe        *partnermodels.Cafe
	link        *linkmodels.Link
	ctx         context.Context
}

func TestAttributionServiceSuite(t *testing.T) {
	suite.Run(t, new(AttributionServiceSuite))
}

func (s *AttributionServiceSuite) SetupTest() {
	s.conversions = attrstore.NewInMemoryConversionStore()
	s.links = linkstore.NewInMemoryLinkStore()
	s.cafes = partnerstore.NewInMemoryCafeStore()
	s.auditlog = auditmem.NewInMemoryStore()
	s.ctx = context.Background()

	s.service = New(s.conversions, s.links, s.cafes,
		WithAuditRecorder(audit.NewRecorder(s.auditlog, nil)),
	)

	var err error
	s.cafe, err = partnermodels.NewCafe(domain.NewCafeID(), domain.NewPartnerID(), "Hongdae Branch", 0.05, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.cafes.Create(s.ctx, s.cafe))

	s.link, err = linkmodels.NewLink(domain.NewLinkID(), s.cafe.ID, "HONGDAE1", "https://cafe.example", linkmodels.UTM{}, 30, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.links.CreateIfCodeAvailable(s.ctx, s.link))
}

func (s *AttributionServiceSuite) clientCtx(ip, ua string) context.Context {
	return requestcontext.WithClientMetadata(s.ctx, ip, ua)
}

func (s *AttributionServiceSuite) TestAttribute() {
	s.Run("captures rate and derives commission at attribution time", func() {
		ctx := s.clientCtx("198.51.100.4", "Mozilla/5.0")
		conversion, err := s.service.Attribute(ctx, "user-1", s.link.ID, 10000, map[string]string{"order_id": "A-1"})
		s.Require().NoError(err)

		s.Equal(s.link.ID, conversion.LinkID)
		s.Equal(s.cafe.ID, conversion.CafeID)
		s.Equal(s.cafe.PartnerID, conversion.PartnerID)
		s.InDelta(0.05, conversion.CommissionRate, 1e-9)
		s.InDelta(500, conversion.CommissionAmount, 1e-9)
		s.Equal(fingerprint.HashString("198.51.100.4"), conversion.IPHash)
		s.Equal(fingerprint.HashString("Mozilla/5.0"), conversion.UAHash)
	})

	s.Run("later rate changes never reprice existing conversions", func() {
		ctx := s.clientCtx("198.51.100.5", "Mozilla/5.0")
		conversion, err := s.service.Attribute(ctx, "user-repricing", s.link.ID, 20000, nil)
		s.Require().NoError(err)

		rate := 0.2
		_, err = s.cafes.Execute(s.ctx, s.cafe.ID,
			func(c *partnermodels.Cafe) error { return nil },
			func(c *partnermodels.Cafe) { c.CommissionRate = rate },
		)
		s.Require().NoError(err)

		found, err := s.service.GetConversion(s.ctx, conversion.ID)
		s.Require().NoError(err)
		s.InDelta(0.05, found.CommissionRate, 1e-9)
		s.InDelta(1000, found.CommissionAmount, 1e-9)
	})

	s.Run("zero amount conversion carries zero commission", func() {
		conversion, err := s.service.Attribute(s.ctx, "user-free", s.link.ID, 0, nil)
		s.Require().NoError(err)
		s.Zero(conversion.CommissionAmount)
	})

	s.Run("records an audit entry", func() {
		conversion, err := s.service.Attribute(s.ctx, "user-audited", s.link.ID, 5000, nil)
		s.Require().NoError(err)

		records, err := s.auditlog.ListByEntity(s.ctx, "conversion", conversion.ID.String())
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(audit.ActionConversionAttributed, records[0].Action)
	})
}

func (s *AttributionServiceSuite) TestAttributeValidation() {
	s.Run("rejects empty user", func() {
		_, err := s.service.Attribute(s.ctx, "   ", s.link.ID, 1000, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects negative amount", func() {
		_, err := s.service.Attribute(s.ctx, "user-neg", s.link.ID, -1, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects nil link id", func() {
		_, err := s.service.Attribute(s.ctx, "user-nil", domain.LinkID{}, 1000, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects unknown link", func() {
		_, err := s.service.Attribute(s.ctx, "user-unknown", domain.NewLinkID(), 1000, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// TestFirstTouch verifies that the first attribution is permanent.
func (s *AttributionServiceSuite) TestFirstTouch() {
	first, err := s.service.Attribute(s.ctx, "loyal-user", s.link.ID, 10000, nil)
	s.Require().NoError(err)

	s.Run("second attribution conflicts and surfaces the existing one", func() {
		_, err := s.service.Attribute(s.ctx, "loyal-user", s.link.ID, 99999, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		existing, ok := ExistingAttribution(err)
		s.Require().True(ok)
		s.Equal(first.ID, existing.ID)
	})

	s.Run("conflict holds across links", func() {
		other, err := linkmodels.NewLink(domain.NewLinkID(), s.cafe.ID, "OTHER123", "https://cafe.example/2", linkmodels.UTM{}, 30, time.Now())
		s.Require().NoError(err)
		s.Require().NoError(s.links.CreateIfCodeAvailable(s.ctx, other))

		_, err = s.service.Attribute(s.ctx, "loyal-user", other.ID, 10000, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("GetAttribution returns the original binding", func() {
		found, err := s.service.GetAttribution(s.ctx, "loyal-user")
		s.Require().NoError(err)
		s.Equal(first.ID, found.ID)
	})
}

func (s *AttributionServiceSuite) TestFallbackAttribution() {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ip, ua := "203.0.113.9", "Mozilla/5.0 (Android 14)"

	attributedCtx := requestcontext.WithTime(s.clientCtx(ip, ua), base)
	conversion, err := s.service.Attribute(attributedCtx, "fallback-user", s.link.ID, 8000, nil)
	s.Require().NoError(err)

	s.Run("matches within the trailing window", func() {
		queryCtx := requestcontext.WithTime(s.clientCtx(ip, ua), base.AddDate(0, 0, 6))
		found, err := s.service.FindFallbackAttribution(queryCtx, 0)
		s.Require().NoError(err)
		s.Equal(conversion.ID, found.ID)
	})

	s.Run("misses outside the default seven-day window", func() {
		queryCtx := requestcontext.WithTime(s.clientCtx(ip, ua), base.AddDate(0, 0, 8))
		_, err := s.service.FindFallbackAttribution(queryCtx, 0)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("a wider explicit window recovers the match", func() {
		queryCtx := requestcontext.WithTime(s.clientCtx(ip, ua), base.AddDate(0, 0, 8))
		found, err := s.service.FindFallbackAttribution(queryCtx, 14)
		s.Require().NoError(err)
		s.Equal(conversion.ID, found.ID)
	})

	s.Run("requires both hashes to match", func() {
		queryCtx := requestcontext.WithTime(s.clientCtx(ip, "Different UA"), base.AddDate(0, 0, 1))
		_, err := s.service.FindFallbackAttribution(queryCtx, 0)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("most recent attribution wins", func() {
		laterCtx := requestcontext.WithTime(s.clientCtx(ip, ua), base.AddDate(0, 0, 2))
		later, err := s.service.Attribute(laterCtx, "fallback-user-2", s.link.ID, 3000, nil)
		s.Require().NoError(err)

		queryCtx := requestcontext.WithTime(s.clientCtx(ip, ua), base.AddDate(0, 0, 3))
		found, err := s.service.FindFallbackAttribution(queryCtx, 0)
		s.Require().NoError(err)
		s.Equal(later.ID, found.ID)
	})

	s.Run("fallback never writes a conversion", func() {
		queryCtx := requestcontext.WithTime(s.clientCtx(ip, ua), base.AddDate(0, 0, 1))
		_, err := s.service.FindFallbackAttribution(queryCtx, 0)
		s.Require().NoError(err)

		_, err = s.conversions.FindByUser(s.ctx, "fallback-user")
		s.Require().NoError(err)
		all, err := s.conversions.ListByPartnerInPeriod(s.ctx, s.cafe.PartnerID, base.AddDate(0, 0, -1), base.AddDate(0, 0, 10))
		s.Require().NoError(err)
		s.Len(all, 2)
	})
}
