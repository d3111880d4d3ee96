package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"refledger/pkg/domain"
	audit "refledger/pkg/platform/audit"
	auditmem "refledger/pkg/platform/audit/store/memory"
	"refledger/pkg/requestcontext"
)

type RecorderSuite struct {
	suite.Suite

	store    *auditmem.InMemoryStore
	recorder *audit.Recorder
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.store = auditmem.NewInMemoryStore()
	s.recorder = audit.NewRecorder(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *RecorderSuite) TestRecord() {
	s.Run("appends a record with snapshots", func() {
		now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
		ctx := requestcontext.WithTime(context.Background(), now)

		id := s.recorder.Record(ctx, audit.Entry{
			EntityType: "payout",
			EntityID:   "pl-1",
			Action:     audit.ActionPayoutApproved,
			Actor:      "finance@refledger.example",
			Before:     map[string]string{"status": "DRAFT"},
			After:      map[string]string{"status": "APPROVED"},
		})
		s.Require().False(id.IsNil())

		records, err := s.store.ListByEntity(ctx, "payout", "pl-1")
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(id, records[0].ID)
		s.Equal(audit.ActionPayoutApproved, records[0].Action)
		s.Equal("finance@refledger.example", records[0].Actor)
		s.JSONEq(`{"status":"DRAFT"}`, string(records[0].Before))
		s.JSONEq(`{"status":"APPROVED"}`, string(records[0].After))
		s.Equal(now, records[0].CreatedAt)
	})

	s.Run("falls back to the context actor", func() {
		ctx := requestcontext.WithActor(context.Background(), "ops@refledger.example")

		id := s.recorder.Record(ctx, audit.Entry{
			EntityType: "link",
			EntityID:   "l-1",
			Action:     audit.ActionLinkRevoked,
		})
		s.Require().False(id.IsNil())

		records, err := s.store.ListByEntity(ctx, "link", "l-1")
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal("ops@refledger.example", records[0].Actor)
	})

	s.Run("nil snapshots stay nil", func() {
		id := s.recorder.Record(context.Background(), audit.Entry{
			EntityType: "partner",
			EntityID:   "p-1",
			Action:     audit.ActionPartnerCreated,
			After:      map[string]string{"status": "ACTIVE"},
		})
		s.Require().False(id.IsNil())

		records, err := s.store.ListByEntity(context.Background(), "partner", "p-1")
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Nil(records[0].Before)
	})
}

// TestRecord_SwallowsFailures pins the contract that audit trouble never
// surfaces to the caller.
func (s *RecorderSuite) TestRecord_SwallowsFailures() {
	s.Run("store failure returns the zero ID", func() {
		s.store.FailWith(errors.New("disk full"))

		id := s.recorder.Record(context.Background(), audit.Entry{
			EntityType: "payout",
			EntityID:   "pl-2",
			Action:     audit.ActionPayoutPaid,
		})
		s.True(id.IsNil())

		records, err := s.store.ListByEntity(context.Background(), "payout", "pl-2")
		s.Require().NoError(err)
		s.Empty(records)
	})

	s.Run("unmarshalable snapshot returns the zero ID", func() {
		id := s.recorder.Record(context.Background(), audit.Entry{
			EntityType: "payout",
			EntityID:   "pl-3",
			Action:     audit.ActionPayoutCalculated,
			After:      func() {},
		})
		s.True(id.IsNil())
	})

	s.Run("nil recorder and nil store are no-ops", func() {
		var nilRecorder *audit.Recorder
		s.True(nilRecorder.Record(context.Background(), audit.Entry{}).IsNil())

		empty := audit.NewRecorder(nil, nil)
		s.True(empty.Record(context.Background(), audit.Entry{}).IsNil())
	})
}

func TestRecorder_IDsAreUnique(t *testing.T) {
	store := auditmem.NewInMemoryStore()
	recorder := audit.NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	seen := map[domain.AuditLogID]bool{}
	for i := 0; i < 10; i++ {
		id := recorder.Record(context.Background(), audit.Entry{
			EntityType: "partner",
			EntityID:   "p-9",
			Action:     audit.ActionPartnerCreated,
		})
		if seen[id] {
			t.Fatalf("duplicate audit log ID %s", id)
		}
		seen[id] = true
	}
}
