//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"refledger/pkg/domain"
	audit "refledger/pkg/platform/audit"
	auditpg "refledger/pkg/platform/audit/store/postgres"
	tx "refledger/pkg/platform/tx"
	"refledger/pkg/testutil/containers"
)

type PostgresAuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditpg.Store
	runner   *tx.SQLRunner
}

func TestPostgresAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditStoreSuite))
}

func (s *PostgresAuditStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = auditpg.New(s.postgres.DB)
	s.runner = tx.NewSQLRunner(s.postgres.DB)
}

func (s *PostgresAuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_logs"))
}

func newAuditRecord(entityID string, action audit.Action, at time.Time) *audit.Record {
	return &audit.Record{
		ID:         domain.NewAuditLogID(),
		EntityType: "payout",
		EntityID:   entityID,
		Action:     action,
		Actor:      "finance@refledger.example",
		Before:     json.RawMessage(`{"status":"DRAFT"}`),
		After:      json.RawMessage(`{"status":"APPROVED"}`),
		Metadata:   map[string]any{"reason": "monthly close"},
		CreatedAt:  at,
	}
}

func (s *PostgresAuditStoreSuite) TestAppendAndFind() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	record := newAuditRecord("pl-1", audit.ActionPayoutApproved, now)
	s.Require().NoError(s.store.Append(ctx, record))

	records, err := s.store.FindByEntity(ctx, "payout", "pl-1", 10)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(record.ID, records[0].ID)
	s.Equal(audit.ActionPayoutApproved, records[0].Action)
	s.Equal("finance@refledger.example", records[0].Actor)
	s.JSONEq(`{"status":"DRAFT"}`, string(records[0].Before))
	s.JSONEq(`{"status":"APPROVED"}`, string(records[0].After))
	s.Equal(map[string]any{"reason": "monthly close"}, records[0].Metadata)
}

func (s *PostgresAuditStoreSuite) TestFindByEntity_NewestFirst() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	actions := []audit.Action{audit.ActionPayoutCalculated, audit.ActionPayoutApproved, audit.ActionPayoutPaid}
	for i, action := range actions {
		s.Require().NoError(s.store.Append(ctx, newAuditRecord("pl-2", action, base.Add(time.Duration(i)*time.Second))))
	}

	records, err := s.store.FindByEntity(ctx, "payout", "pl-2", 10)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal(audit.ActionPayoutPaid, records[0].Action)
	s.Equal(audit.ActionPayoutCalculated, records[2].Action)

	limited, err := s.store.FindByEntity(ctx, "payout", "pl-2", 1)
	s.Require().NoError(err)
	s.Require().Len(limited, 1)
	s.Equal(audit.ActionPayoutPaid, limited[0].Action)
}

// TestAppendJoinsTransaction verifies the audit row commits and rolls back
// with the enclosing business transaction.
func (s *PostgresAuditStoreSuite) TestAppendJoinsTransaction() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s.Run("commits together", func() {
		err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
			return s.store.Append(ctx, newAuditRecord("pl-3", audit.ActionPayoutApproved, now))
		})
		s.Require().NoError(err)

		records, err := s.store.FindByEntity(ctx, "payout", "pl-3", 10)
		s.Require().NoError(err)
		s.Len(records, 1)
	})

	s.Run("rolls back together", func() {
		wantErr := errors.New("business write failed")
		err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.Append(ctx, newAuditRecord("pl-4", audit.ActionPayoutApproved, now)); err != nil {
				return err
			}
			return wantErr
		})
		s.Require().ErrorIs(err, wantErr)

		records, err := s.store.FindByEntity(ctx, "payout", "pl-4", 10)
		s.Require().NoError(err)
		s.Empty(records)
	})
}

// TestFailedAppendDoesNotPoisonTransaction exercises the savepoint: a broken
// audit insert must leave the enclosing transaction usable.
func (s *PostgresAuditStoreSuite) TestFailedAppendDoesNotPoisonTransaction() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	good := newAuditRecord("pl-5", audit.ActionPayoutApproved, now)
	dup := newAuditRecord("pl-5", audit.ActionPayoutApproved, now)
	dup.ID = good.ID // primary key violation

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Append(ctx, good); err != nil {
			return err
		}
		// The duplicate fails, but only inside its savepoint.
		s.Error(s.store.Append(ctx, dup))
		// The transaction is still live.
		return s.store.Append(ctx, newAuditRecord("pl-5", audit.ActionPayoutPaid, now.Add(time.Second)))
	})
	s.Require().NoError(err)

	records, err := s.store.FindByEntity(ctx, "payout", "pl-5", 10)
	s.Require().NoError(err)
	s.Len(records, 2)
}
