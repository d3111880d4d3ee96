package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	attrmodels "refledger/internal/attribution/models"
	attrstore "refledger/internal/attribution/store"
	linkmodels "refledger/internal/link/models"
	linkstore "refledger/internal/link/store"
	partnermodels "refledger/internal/partner/models"
	partnerstore "refledger/internal/partner/store"
	"refledger/pkg/domain"
	dErrors "refledger/pkg/domain-errors"
)

type AnalyticsServiceSuite struct {
	suite.Suite
	links       *linkstore.InMemoryLinkStore
	cafes       *partnerstore.InMemoryCafeStore
	conversions *attrstore.InMemoryConversionStore
	service     *Service
	ctx         context.Context
	seq         int
}

func TestAnalyticsServiceSuite(t *testing.T) {
	suite.Run(t, new(AnalyticsServiceSuite))
}

func (s *AnalyticsServiceSuite) SetupTest() {
	s.links = linkstore.NewInMemoryLinkStore()
	s.cafes = partnerstore.NewInMemoryCafeStore()
	s.conversions = attrstore.NewInMemoryConversionStore()
	s.service = New(s.links, s.cafes, s.conversions)
	s.ctx = context.Background()
}

func (s *AnalyticsServiceSuite) newCafe(partnerID domain.PartnerID) *partnermodels.Cafe {
	cafe, err := partnermodels.NewCafe(domain.NewCafeID(), partnerID, "Branch", 0.05, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.cafes.Create(s.ctx, cafe))
	return cafe
}

func (s *AnalyticsServiceSuite) newLink(cafeID domain.CafeID, clicks int64) *linkmodels.Link {
	s.seq++
	link, err := linkmodels.NewLink(domain.NewLinkID(), cafeID, fmt.Sprintf("CODE%04d", s.seq), "https://cafe.example", linkmodels.UTM{}, 365, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.links.CreateIfCodeAvailable(s.ctx, link))
	for i := int64(0); i < clicks; i++ {
		_, err := s.links.IncrementClicks(s.ctx, link.ShortCode)
		s.Require().NoError(err)
	}
	link.Clicks = clicks
	return link
}

func (s *AnalyticsServiceSuite) convert(link *linkmodels.Link, partnerID domain.PartnerID, amount float64, at time.Time) {
	s.seq++
	c, err := attrmodels.NewConversion(
		domain.NewConversionID(), fmt.Sprintf("user-%d", s.seq),
		link.ID, link.CafeID, partnerID,
		"ip", "ua", amount, 0.05, nil, at,
	)
	s.Require().NoError(err)
	s.Require().NoError(s.conversions.CreateIfUserUnattributed(s.ctx, c))
}

func (s *AnalyticsServiceSuite) TestLinkStats() {
	partnerID := domain.NewPartnerID()
	cafe := s.newCafe(partnerID)

	s.Run("rolls up clicks, conversions, and money", func() {
		link := s.newLink(cafe.ID, 10)
		now := time.Now()
		s.convert(link, partnerID, 10000, now)
		s.convert(link, partnerID, 20000, now.Add(time.Hour))

		stats, err := s.service.LinkStats(s.ctx, link.ID)
		s.Require().NoError(err)
		s.EqualValues(10, stats.Clicks)
		s.Equal(2, stats.Conversions)
		s.InDelta(30000, stats.Revenue, 1e-9)
		s.InDelta(1500, stats.Commission, 1e-9)
		s.InDelta(0.2, stats.ConversionRate, 1e-9)
	})

	s.Run("conversion rate is zero when the link has no clicks", func() {
		link := s.newLink(cafe.ID, 0)
		s.convert(link, partnerID, 10000, time.Now())

		stats, err := s.service.LinkStats(s.ctx, link.ID)
		s.Require().NoError(err)
		s.Zero(stats.ConversionRate)
		s.Equal(1, stats.Conversions)
	})

	s.Run("unknown link is not found", func() {
		_, err := s.service.LinkStats(s.ctx, domain.NewLinkID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *AnalyticsServiceSuite) TestTrendBucketing() {
	partnerID := domain.NewPartnerID()
	cafe := s.newCafe(partnerID)
	link := s.newLink(cafe.ID, 0)

	// Two conversions on the same day, one the next day, one the next month.
	day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.convert(link, partnerID, 1000, day1)
	s.convert(link, partnerID, 2000, day1.Add(5*time.Hour))
	s.convert(link, partnerID, 3000, day1.AddDate(0, 0, 1))
	s.convert(link, partnerID, 4000, day1.AddDate(0, 1, 0))

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	s.Run("daily buckets floor to midnight", func() {
		buckets, err := s.service.Trend(s.ctx, Scope{LinkID: link.ID}, GranularityDay, start, end)
		s.Require().NoError(err)
		s.Require().Len(buckets, 3)
		s.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), buckets[0].PeriodStart)
		s.Equal(2, buckets[0].Conversions)
		s.InDelta(3000, buckets[0].Revenue, 1e-9)
	})

	s.Run("weekly buckets start on Monday", func() {
		buckets, err := s.service.Trend(s.ctx, Scope{LinkID: link.ID}, GranularityWeek, start, end)
		s.Require().NoError(err)
		s.Require().NotEmpty(buckets)
		// March 10 2025 is a Monday; both early March conversions fall in its week.
		s.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), buckets[0].PeriodStart)
		s.Equal(3, buckets[0].Conversions)
	})

	s.Run("monthly buckets floor to the first of the month", func() {
		buckets, err := s.service.Trend(s.ctx, Scope{LinkID: link.ID}, GranularityMonth, start, end)
		s.Require().NoError(err)
		s.Require().Len(buckets, 2)
		s.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), buckets[0].PeriodStart)
		s.Equal(3, buckets[0].Conversions)
		s.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), buckets[1].PeriodStart)
		s.Equal(1, buckets[1].Conversions)
	})

	s.Run("range excludes conversions outside it", func() {
		buckets, err := s.service.Trend(s.ctx, Scope{LinkID: link.ID}, GranularityDay, start, start.AddDate(0, 0, 10))
		s.Require().NoError(err)
		total := 0
		for _, b := range buckets {
			total += b.Conversions
		}
		s.Equal(2, total)
	})
}

func (s *AnalyticsServiceSuite) TestTrendScopes() {
	partnerID := domain.NewPartnerID()
	cafeA := s.newCafe(partnerID)
	cafeB := s.newCafe(partnerID)
	linkA := s.newLink(cafeA.ID, 0)
	linkB := s.newLink(cafeB.ID, 0)

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.convert(linkA, partnerID, 1000, at)
	s.convert(linkB, partnerID, 2000, at)

	start := at.AddDate(0, 0, -1)
	end := at.AddDate(0, 0, 1)

	s.Run("cafe scope covers only that cafe's links", func() {
		buckets, err := s.service.Trend(s.ctx, Scope{CafeID: cafeA.ID}, GranularityDay, start, end)
		s.Require().NoError(err)
		s.Require().Len(buckets, 1)
		s.Equal(1, buckets[0].Conversions)
	})

	s.Run("partner scope expands across all cafes", func() {
		buckets, err := s.service.Trend(s.ctx, Scope{PartnerID: partnerID}, GranularityDay, start, end)
		s.Require().NoError(err)
		s.Require().Len(buckets, 1)
		s.Equal(2, buckets[0].Conversions)
		s.InDelta(3000, buckets[0].Revenue, 1e-9)
	})

	s.Run("empty scope is a bad request", func() {
		_, err := s.service.Trend(s.ctx, Scope{}, GranularityDay, start, end)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown granularity is rejected", func() {
		_, err := s.service.Trend(s.ctx, Scope{LinkID: linkA.ID}, Granularity("hourly"), start, end)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("inverted range is rejected", func() {
		_, err := s.service.Trend(s.ctx, Scope{LinkID: linkA.ID}, GranularityDay, end, start)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("partner with no links yields no buckets", func() {
		buckets, err := s.service.Trend(s.ctx, Scope{PartnerID: domain.NewPartnerID()}, GranularityDay, start, end)
		s.Require().NoError(err)
		s.Empty(buckets)
	})
}
