package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"mqdiag/internal/config"
	"mqdiag/internal/constants"
	"mqdiag/internal/diagnostics"
	"mqdiag/internal/filtering"
	"mqdiag/internal/logger"
	"mqdiag/internal/pipeline"
	"mqdiag/pkg/bootstrap"
	"mqdiag/pkg/jsoncodec"
	"mqdiag/pkg/metrics"
	"mqdiag/pkg/migrations"
	"mqdiag/pkg/tracing"
)

const serviceName = "mqdiag"

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	mongoClient    *mongo.Client
	rules          *filtering.Service
	publisher      *pipeline.Publisher
	prober         *diagnostics.Prober
	verifier       *diagnostics.Verifier
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register()

	db, mongoClient, err := a.dbConnector.InitForFilterSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db, a.mongoClient = db, mongoClient

	filter, rules, err := a.InitFilter(ctx, a.db, a.mongoClient)
	if err != nil {
		return fmt.Errorf("failed to initialize filter: %w", err)
	}
	a.rules = rules

	if err := a.InitBroker(ctx, nil); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.publisher = a.NewPublisher(filter)
	a.prober = a.NewProber()
	a.verifier = a.NewVerifier()
	return nil
}

func (a *App) destination(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return a.Config.Publish.DefaultQueue
}

func (a *App) verifyTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return a.Config.Diagnostics.VerifyTimeout
}

func (a *App) RunPublish(ctx context.Context, out io.Writer, destination, payload string, raw, verify bool, timeout time.Duration) error {
	var err error
	result := struct {
		Publish interface{}                `json:"publish"`
		Verify  *diagnostics.VerifyResult `json:"verify,omitempty"`
	}{}

	if raw {
		result.Publish, err = a.publisher.PublishRaw(ctx, destination, payload)
	} else {
		result.Publish, err = a.publisher.Publish(ctx, destination, payload)
	}
	if err == nil && verify {
		vr := a.verifier.Check(ctx, destination, a.verifyTimeout(timeout))
		result.Verify = &vr
	}

	if werr := writeJSON(out, result); werr != nil {
		return werr
	}
	return err
}

func (a *App) RunProbe(ctx context.Context, out io.Writer, candidates []string) error {
	if len(candidates) == 0 {
		candidates = a.Config.Diagnostics.ProbeCandidates
	}
	accessible := a.prober.Probe(ctx, candidates)
	return writeJSON(out, map[string]interface{}{
		"candidates": candidates,
		"accessible": accessible,
	})
}

func (a *App) RunVerify(ctx context.Context, out io.Writer, destination string, timeout time.Duration) error {
	return writeJSON(out, a.verifier.Check(ctx, destination, a.verifyTimeout(timeout)))
}

func (a *App) RunDebug(ctx context.Context, out io.Writer, destination string) error {
	session := diagnostics.NewSession(a.prober, a.verifier, a.publisher, diagnostics.SessionOptions{
		Candidates:    a.Config.Diagnostics.ProbeCandidates,
		VerifyDelay:   a.Config.Diagnostics.VerifyDelay,
		VerifyTimeout: a.Config.Diagnostics.VerifyTimeout,
		Source:        a.Broker.ContainerID(),
	}, a.Logger)

	report, err := session.Run(ctx, destination)
	if werr := writeJSON(out, report); werr != nil {
		return werr
	}
	return err
}

func writeJSON(out io.Writer, v interface{}) error {
	b, err := jsoncodec.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}

// RunMigrate prepares whichever rule stores are configured and optionally
// seeds them with the rules from the config file.
func RunMigrate(ctx context.Context, cfg *config.Config, log logger.Logger, seed bool) error {
	dc := bootstrap.NewDatabaseConnector(cfg, log)

	db, err := dc.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	client, err := dc.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	defer dc.ShutdownDatabases(ctx, db, client)

	if db == nil && client == nil {
		return fmt.Errorf("no database configured: set database.postgres.host or database.mongodb.uri")
	}

	if db != nil {
		if err := migrations.MigratePostgres(db); err != nil {
			return err
		}
		log.InfowCtx(ctx, "PostgreSQL schema up to date")
		if seed {
			repo := filtering.NewPostgresRepository(db)
			for _, rc := range cfg.Filtering.Rules {
				if err := repo.CreateRule(ctx, filtering.RuleFromConfig(rc)); err != nil {
					return err
				}
			}
			log.InfowCtx(ctx, "Seeded PostgreSQL filter rules", "rules", len(cfg.Filtering.Rules))
		}
	}

	if client != nil {
		mdb := dc.MongoDatabase(client)
		if err := migrations.EnsureMongoIndexes(ctx, mdb); err != nil {
			return err
		}
		log.InfowCtx(ctx, "MongoDB indexes ensured")
		if seed {
			repo := filtering.NewMongoRepository(mdb)
			for _, rc := range cfg.Filtering.Rules {
				if err := repo.CreateRule(ctx, filtering.RuleFromConfig(rc)); err != nil {
					return err
				}
			}
			log.InfowCtx(ctx, "Seeded MongoDB filter rules", "rules", len(cfg.Filtering.Rules))
		}
	}

	return nil
}
