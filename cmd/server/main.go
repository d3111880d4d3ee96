// Command server runs the referral attribution and payout ledger service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	analyticshandler "refledger/internal/analytics/handler"
	analyticsservice "refledger/internal/analytics/service"
	attrhandler "refledger/internal/attribution/handler"
	attrmetrics "refledger/internal/attribution/metrics"
	attrservice "refledger/internal/attribution/service"
	attrstore "refledger/internal/attribution/store"
	"refledger/internal/link/cache"
	linkhandler "refledger/internal/link/handler"
	linkmetrics "refledger/internal/link/metrics"
	linkservice "refledger/internal/link/service"
	"refledger/internal/link/shortcode"
	linkstore "refledger/internal/link/store"
	"refledger/internal/notify"
	partnerhandler "refledger/internal/partner/handler"
	partnerservice "refledger/internal/partner/service"
	partnerstore "refledger/internal/partner/store"
	payouthandler "refledger/internal/payout/handler"
	payoutmetrics "refledger/internal/payout/metrics"
	payoutservice "refledger/internal/payout/service"
	payoutstore "refledger/internal/payout/store"
	"refledger/internal/platform/config"
	"refledger/internal/platform/httpserver"
	kafkaproducer "refledger/internal/platform/kafka/producer"
	"refledger/internal/platform/logger"
	"refledger/internal/platform/metrics"
	pg "refledger/internal/platform/postgres"
	redisclient "refledger/internal/platform/redis"
	httptransport "refledger/internal/transport/http"
	"refledger/pkg/platform/audit"
	auditmem "refledger/pkg/platform/audit/store/memory"
	auditpg "refledger/pkg/platform/audit/store/postgres"
	"refledger/pkg/platform/tx"
)

const (
	shutdownTimeout = 10 * time.Second
	expirySweepTick = time.Hour
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(slog.LevelInfo)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	partners    partnerservice.PartnerStore
	cafes       cafeStore
	links       linkStore
	conversions conversionStore
	payouts     payoutservice.PayoutStore
	audit       audit.Store
	runner      tx.Runner
	close       func()
}

// cafeStore is the union of every cafe capability the services need.
type cafeStore interface {
	partnerservice.CafeStore
	analyticsservice.CafeDirectory
}

// linkStore is the link registry store plus the analytics read side.
type linkStore interface {
	linkservice.LinkStore
	analyticsservice.LinkDirectory
}

// conversionStore is the union of the attribution store and the read sides
// payout and analytics consume.
type conversionStore interface {
	attrservice.ConversionStore
	payoutservice.ConversionSource
	analyticsservice.ConversionReader
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	auditor := audit.NewRecorder(st.audit, log)

	// Link resolution cache. Disabled when Redis is not configured.
	var linkCache cache.Cache = cache.Noop{}
	rc, err := redisclient.New(cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		linkCache = cache.NewRedis(rc.Client, cfg.Redis.LinkCacheTTL, log)
		defer rc.Close()
		log.Info("link cache enabled")
	}

	// Payout status notifications. Disabled without Kafka seeds.
	var notifier notify.Notifier = notify.Noop{}
	if len(cfg.Kafka.Seeds) > 0 {
		producer, err := kafkaproducer.New(ctx, cfg.Kafka.Seeds, notify.Topics(cfg.Kafka.TopicPrefix), log)
		if err != nil {
			return err
		}
		defer producer.Close()
		notifier = notify.NewKafka(producer, cfg.Kafka.TopicPrefix, log)
		log.Info("payout notifications enabled", "seeds", cfg.Kafka.Seeds, "topic_prefix", cfg.Kafka.TopicPrefix)
	}

	codes, err := shortcode.New(cfg.ShortCode.Alphabet, cfg.ShortCode.Length, cfg.ShortCode.MaxAttempts)
	if err != nil {
		return err
	}

	partners := partnerservice.New(st.partners, st.cafes,
		partnerservice.WithLogger(log),
		partnerservice.WithAuditRecorder(auditor),
		partnerservice.WithTxRunner(st.runner),
	)
	links := linkservice.New(st.links, st.cafes, codes,
		linkservice.WithLogger(log),
		linkservice.WithAuditRecorder(auditor),
		linkservice.WithMetrics(linkmetrics.New()),
		linkservice.WithCache(linkCache),
		linkservice.WithTxRunner(st.runner),
	)
	attribution := attrservice.New(st.conversions, st.links, st.cafes,
		attrservice.WithLogger(log),
		attrservice.WithAuditRecorder(auditor),
		attrservice.WithMetrics(attrmetrics.New()),
		attrservice.WithFallbackWindow(cfg.Attribution.FallbackWindowDays),
		attrservice.WithTxRunner(st.runner),
	)
	analytics := analyticsservice.New(st.links, st.cafes, st.conversions,
		analyticsservice.WithLogger(log),
	)
	payouts := payoutservice.New(st.payouts, st.conversions,
		payoutservice.WithLogger(log),
		payoutservice.WithAuditRecorder(auditor),
		payoutservice.WithMetrics(payoutmetrics.New()),
		payoutservice.WithNotifier(notifier),
		payoutservice.WithApproveTimeout(cfg.Payout.ApproveTimeout),
		payoutservice.WithTxRunner(st.runner),
	)

	linkH := linkhandler.New(links, log)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		AdminJWTSecret: cfg.AdminJWTSecret,
		Metrics:        metrics.New(),
		Partner:        partnerhandler.New(partners, log),
		Attribution:    attrhandler.New(attribution, log),
		Analytics:      analyticshandler.New(analytics, log),
		Payout:         payouthandler.New(payouts, log),
		LinkAdmin:      linkH.RegisterAdmin,
		LinkPublic:     linkH.RegisterPublic,
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting refledger", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// Keep stored link status aligned with expiry timestamps for
		// listings; resolution never depends on this sweep.
		ticker := time.NewTicker(expirySweepTick)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := links.ExpireDue(gctx); err != nil {
					log.Warn("link expiry sweep failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	if cfg.StoreBackend == "memory" {
		log.Warn("using in-memory stores; state is lost on restart")
		return &stores{
			partners:    partnerstore.NewInMemoryPartnerStore(),
			cafes:       partnerstore.NewInMemoryCafeStore(),
			links:       linkstore.NewInMemoryLinkStore(),
			conversions: attrstore.NewInMemoryConversionStore(),
			payouts:     payoutstore.NewInMemoryPayoutStore(),
			audit:       auditmem.NewInMemoryStore(),
			runner:      tx.NewMemoryRunner(),
			close:       func() {},
		}, nil
	}

	db, err := pg.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	return &stores{
		partners:    partnerstore.NewPostgresPartnerStore(db),
		cafes:       partnerstore.NewPostgresCafeStore(db),
		links:       linkstore.NewPostgresLinkStore(db),
		conversions: attrstore.NewPostgresConversionStore(db),
		payouts:     payoutstore.NewPostgresPayoutStore(db),
		audit:       auditpg.New(db),
		runner:      tx.NewSQLRunner(db),
		close:       func() { db.Close() },
	}, nil
}
