//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"refledger/internal/partner/models"
	"refledger/internal/partner/store"
	"refledger/pkg/domain"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/sentinel"
	"refledger/pkg/testutil/containers"
)

type PostgresPartnerStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	partners *store.PostgresPartnerStore
	cafes    *store.PostgresCafeStore
}

func TestPostgresPartnerStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresPartnerStoreSuite))
}

func (s *PostgresPartnerStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.partners = store.NewPostgresPartnerStore(s.postgres.DB)
	s.cafes = store.NewPostgresCafeStore(s.postgres.DB)
}

func (s *PostgresPartnerStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx, "payout_ledger_entries", "conversions", "links", "cafes", "partners")
	s.Require().NoError(err)
}

func newTestPartner(businessNumber string) *models.Partner {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Partner{
		ID:             domain.NewPartnerID(),
		Name:           "Partner " + businessNumber,
		BusinessNumber: businessNumber,
		ContactEmail:   "ops@partner.example",
		Status:         models.PartnerStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TestConcurrentBusinessNumberConflict verifies that concurrent registration
// attempts with the same business number result in exactly one success.
func (s *PostgresPartnerStoreSuite) TestConcurrentBusinessNumberConflict() {
	ctx := context.Background()
	businessNumber := "440-81-" + uuid.NewString()[:6]
	const goroutines = 50

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			p := newTestPartner(businessNumber)
			err := s.partners.CreateIfBusinessNumberAvailable(ctx, p)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one create should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should get conflict error")
}

func (s *PostgresPartnerStoreSuite) TestCreateAndFind() {
	ctx := context.Background()

	p := newTestPartner("110-22-33445")
	s.Require().NoError(s.partners.CreateIfBusinessNumberAvailable(ctx, p))

	found, err := s.partners.FindByID(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.ID, found.ID)
	s.Equal(p.Name, found.Name)
	s.Equal(p.BusinessNumber, found.BusinessNumber)
	s.Equal(models.PartnerStatusActive, found.Status)
	s.WithinDuration(p.CreatedAt, found.CreatedAt, time.Millisecond)
}

func (s *PostgresPartnerStoreSuite) TestListPagination() {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p := newTestPartner(fmt.Sprintf("220-33-0000%d", i))
		p.CreatedAt = p.CreatedAt.Add(time.Duration(i) * time.Second)
		s.Require().NoError(s.partners.CreateIfBusinessNumberAvailable(ctx, p))
	}

	page1, total, err := s.partners.List(ctx, pagination.New(1, 2))
	s.Require().NoError(err)
	s.Equal(5, total)
	s.Require().Len(page1, 2)

	page3, _, err := s.partners.List(ctx, pagination.New(3, 2))
	s.Require().NoError(err)
	s.Len(page3, 1)

	// Ordered by creation time
	s.True(page1[0].CreatedAt.Before(page1[1].CreatedAt))
}

func (s *PostgresPartnerStoreSuite) TestExecute() {
	ctx := context.Background()

	p := newTestPartner("330-44-55667")
	s.Require().NoError(s.partners.CreateIfBusinessNumberAvailable(ctx, p))

	s.Run("validate then mutate", func() {
		updated, err := s.partners.Execute(ctx, p.ID,
			func(current *models.Partner) error {
				if current.Status != models.PartnerStatusActive {
					return errors.New("unexpected status")
				}
				return nil
			},
			func(current *models.Partner) {
				current.Status = models.PartnerStatusSuspended
				current.UpdatedAt = time.Now().UTC()
			},
		)
		s.Require().NoError(err)
		s.Equal(models.PartnerStatusSuspended, updated.Status)

		found, err := s.partners.FindByID(ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.PartnerStatusSuspended, found.Status)
	})

	s.Run("validation failure leaves the row untouched", func() {
		wantErr := errors.New("nope")
		_, err := s.partners.Execute(ctx, p.ID,
			func(*models.Partner) error { return wantErr },
			func(current *models.Partner) { current.Name = "should not persist" },
		)
		s.Require().ErrorIs(err, wantErr)

		found, err := s.partners.FindByID(ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(p.Name, found.Name)
	})

	s.Run("unknown partner", func() {
		_, err := s.partners.Execute(ctx, domain.NewPartnerID(),
			func(*models.Partner) error { return nil },
			func(*models.Partner) {},
		)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresPartnerStoreSuite) TestNotFound() {
	ctx := context.Background()
	_, err := s.partners.FindByID(ctx, domain.NewPartnerID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresPartnerStoreSuite) TestCafes() {
	ctx := context.Background()

	p1 := newTestPartner("550-66-77889")
	p2 := newTestPartner("550-66-77890")
	s.Require().NoError(s.partners.CreateIfBusinessNumberAvailable(ctx, p1))
	s.Require().NoError(s.partners.CreateIfBusinessNumberAvailable(ctx, p2))

	newCafe := func(partnerID domain.PartnerID, name string, rate float64) *models.Cafe {
		now := time.Now().UTC().Truncate(time.Microsecond)
		return &models.Cafe{
			ID:             domain.NewCafeID(),
			PartnerID:      partnerID,
			Name:           name,
			CommissionRate: rate,
			Status:         models.CafeStatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	c1 := newCafe(p1.ID, "Hongdae Books", 0.05)
	c2 := newCafe(p1.ID, "Gangnam Coffee", 0.07)
	c3 := newCafe(p2.ID, "Busan Roasters", 0.1)
	for _, c := range []*models.Cafe{c1, c2, c3} {
		s.Require().NoError(s.cafes.Create(ctx, c))
	}

	s.Run("find round-trips", func() {
		found, err := s.cafes.FindByID(ctx, c1.ID)
		s.Require().NoError(err)
		s.Equal(c1.Name, found.Name)
		s.Equal(p1.ID, found.PartnerID)
		s.InDelta(0.05, found.CommissionRate, 1e-9)
	})

	s.Run("listing is partner scoped", func() {
		cafes, total, err := s.cafes.ListByPartner(ctx, p1.ID, pagination.New(1, 20))
		s.Require().NoError(err)
		s.Equal(2, total)
		s.Len(cafes, 2)

		all, err := s.cafes.ListAllByPartner(ctx, p2.ID)
		s.Require().NoError(err)
		s.Require().Len(all, 1)
		s.Equal(c3.ID, all[0].ID)
	})

	s.Run("execute updates the commission rate", func() {
		updated, err := s.cafes.Execute(ctx, c2.ID,
			func(*models.Cafe) error { return nil },
			func(current *models.Cafe) {
				current.CommissionRate = 0.12
				current.UpdatedAt = time.Now().UTC()
			},
		)
		s.Require().NoError(err)
		s.InDelta(0.12, updated.CommissionRate, 1e-9)

		found, err := s.cafes.FindByID(ctx, c2.ID)
		s.Require().NoError(err)
		s.InDelta(0.12, found.CommissionRate, 1e-9)
	})
}
