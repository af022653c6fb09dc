// Package health aggregates liveness checks for the broker session and the
// optional rule stores.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/errgroup"

	"mqdiag/internal/connection"
)

const defaultCheckTimeout = 5 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

// Describer is implemented by checkers that report extra state alongside
// their verdict.
type Describer interface {
	Describe() interface{}
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HTTPStatus is 503 when unhealthy and 200 otherwise; degraded still serves.
func (h Health) HTTPStatus() int {
	if h.Status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency"`
	Details   interface{}   `json:"details,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type degradedError struct {
	err error
}

func (e degradedError) Error() string { return e.err.Error() }
func (e degradedError) Unwrap() error { return e.err }

// Degraded marks a check failure that does not make the service unhealthy.
func Degraded(err error) error {
	return degradedError{err: err}
}

type CheckerRegistry struct {
	checkers []Checker
	timeout  time.Duration
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{timeout: defaultCheckTimeout}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

// Check runs every checker concurrently, each bounded by the registry timeout.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	var mu sync.Mutex
	results := make(map[string]CheckResult, len(r.checkers))

	g, gCtx := errgroup.WithContext(ctx)
	for _, checker := range r.checkers {
		checker := checker
		g.Go(func() error {
			result := runCheck(gCtx, checker, r.timeout)
			mu.Lock()
			results[checker.Name()] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Health{
		Status:    overall(results),
		Timestamp: time.Now(),
		Checks:    results,
	}
}

func runCheck(ctx context.Context, checker Checker, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := checker.Check(ctx)
	result := CheckResult{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if d, ok := checker.(Describer); ok {
		result.Details = d.Describe()
	}

	var degraded degradedError
	switch {
	case err == nil:
	case errors.As(err, &degraded):
		result.Status = StatusDegraded
		result.Message = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

func overall(results map[string]CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// BrokerStatus is satisfied by the connection manager.
type BrokerStatus interface {
	Status() connection.Status
}

// BrokerChecker is healthy while the session is open and degraded while a
// reconnect is in progress.
type BrokerChecker struct {
	broker BrokerStatus
}

func NewBrokerChecker(broker BrokerStatus) *BrokerChecker {
	return &BrokerChecker{broker: broker}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(_ context.Context) error {
	st := c.broker.Status()
	switch st.State {
	case connection.StateOpen.String():
		return nil
	case connection.StateConnecting.String():
		return Degraded(fmt.Errorf("broker %s: reconnecting", st.Address))
	default:
		if st.LastError != "" {
			return fmt.Errorf("broker %s is %s: %s", st.Address, st.State, st.LastError)
		}
		return fmt.Errorf("broker %s is %s", st.Address, st.State)
	}
}

func (c *BrokerChecker) Describe() interface{} {
	return c.broker.Status()
}

type PostgreSQLChecker struct {
	db *sql.DB
}

func NewPostgreSQLChecker(db *sql.DB) *PostgreSQLChecker {
	return &PostgreSQLChecker{db: db}
}

func (c *PostgreSQLChecker) Name() string {
	return "postgresql"
}

func (c *PostgreSQLChecker) Check(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}

type MongoDBChecker struct {
	client *mongo.Client
}

func NewMongoDBChecker(client *mongo.Client) *MongoDBChecker {
	return &MongoDBChecker{client: client}
}

func (c *MongoDBChecker) Name() string {
	return "mongodb"
}

func (c *MongoDBChecker) Check(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}
