package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"mqdiag/internal/config"
	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
	"mqdiag/pkg/migrations"
)

// DatabaseConnector opens the optional rule stores. Neither is needed unless
// filter rules are sourced from it.
type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitForFilterSource connects only the store that filtering.source names.
// Schema migrations run when database.run_migrations is set.
func (dc *DatabaseConnector) InitForFilterSource(ctx context.Context) (*sql.DB, *mongo.Client, error) {
	if !dc.Config.Filtering.Enabled {
		return nil, nil, nil
	}

	switch dc.Config.Filtering.Source {
	case constants.FilterSourcePostgres:
		db, err := dc.InitPostgreSQL(ctx)
		if err != nil || db == nil {
			return nil, nil, err
		}
		if dc.Config.Database.RunMigrations {
			if err := migrations.MigratePostgres(db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return db, nil, nil
	case constants.FilterSourceMongoDB:
		client, err := dc.InitMongoDB(ctx)
		if err != nil || client == nil {
			return nil, nil, err
		}
		if dc.Config.Database.RunMigrations {
			if err := migrations.EnsureMongoIndexes(ctx, dc.MongoDatabase(client)); err != nil {
				client.Disconnect(ctx)
				return nil, nil, err
			}
		}
		return nil, client, nil
	default:
		return nil, nil, nil
	}
}

// InitPostgreSQL returns nil, nil when database.postgres.host is empty.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres
	if pg.Host == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", pg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// rule loads are infrequent and small
	db.SetMaxOpenConns(constants.PostgresMaxOpenConns)
	db.SetConnMaxIdleTime(constants.PostgresConnMaxIdle)

	pingCtx, cancel := context.WithTimeout(ctx, constants.DatabasePingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s@%s:%d: %w", pg.DBName, pg.Host, pg.Port, err)
	}

	dc.Logger.InfowCtx(ctx, "PostgreSQL connected",
		"host", pg.Host,
		"port", pg.Port,
		"database", pg.DBName,
	)
	return db, nil
}

// InitMongoDB returns nil, nil when database.mongodb.uri is empty.
func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	uri := dc.Config.Database.MongoDB.URI
	if uri == "" {
		return nil, nil
	}

	mongoOpts := options.Client().
		ApplyURI(uri).
		SetAppName("mqdiag").
		SetServerSelectionTimeout(constants.DatabasePingTimeout)
	client, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, constants.DatabasePingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "MongoDB connected", "database", dc.mongoDatabaseName())
	return client, nil
}

// MongoDatabase selects database.mongodb.database, or the default name.
func (dc *DatabaseConnector) MongoDatabase(client *mongo.Client) *mongo.Database {
	return client.Database(dc.mongoDatabaseName())
}

func (dc *DatabaseConnector) mongoDatabaseName() string {
	if name := dc.Config.Database.MongoDB.Database; name != "" {
		return name
	}
	return constants.DefaultMongoDBName
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, postgres *sql.DB, mongoClient *mongo.Client) []error {
	var errs []error

	if postgres != nil {
		if err := postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if mongoClient != nil {
		if err := mongoClient.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
