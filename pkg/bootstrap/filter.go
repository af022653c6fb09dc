package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.mongodb.org/mongo-driver/mongo"

	"mqdiag/internal/constants"
	"mqdiag/internal/filtering"
	"mqdiag/internal/pipeline"
)

// InitFilter builds the filter the pipeline uses. The returned service is nil
// when filtering is disabled; it is what the reloader and the API work on.
func (b *Base) InitFilter(ctx context.Context, db *sql.DB, mongoClient *mongo.Client) (pipeline.FilterService, *filtering.Service, error) {
	cfg := b.Config.Filtering
	if !cfg.Enabled {
		return filtering.NopFilter{}, nil, nil
	}

	var repo filtering.Repository
	switch cfg.Source {
	case constants.FilterSourcePostgres:
		if db == nil {
			return nil, nil, fmt.Errorf("filter source %q needs database.postgres", cfg.Source)
		}
		repo = filtering.NewPostgresRepository(db)
	case constants.FilterSourceMongoDB:
		if mongoClient == nil {
			return nil, nil, fmt.Errorf("filter source %q needs database.mongodb", cfg.Source)
		}
		repo = filtering.NewMongoRepository(NewDatabaseConnector(b.Config, b.Logger).MongoDatabase(mongoClient))
	default:
		repo = filtering.NewStaticRepository(cfg.Rules)
	}

	svc, err := filtering.NewService(repo, cfg, b.Logger)
	if err != nil {
		return nil, nil, err
	}

	if err := svc.ReloadRules(ctx); err != nil {
		var invalid *multierror.Error
		if !errors.As(err, &invalid) {
			return nil, nil, err
		}
		b.Logger.WarnwCtx(ctx, "Some filter rules were rejected",
			"rejected", len(invalid.Errors),
			"error", err,
		)
	}

	return svc, svc, nil
}
