package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mqdiag/internal/connection"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string                { return s.name }
func (s stubChecker) Check(context.Context) error { return s.err }

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{name: "no checkers", want: StatusHealthy},
		{name: "all healthy", checkers: []Checker{stubChecker{name: "a"}}, want: StatusHealthy},
		{name: "degraded", checkers: []Checker{
			stubChecker{name: "a"},
			stubChecker{name: "b", err: Degraded(errors.New("slow"))},
		}, want: StatusDegraded},
		{name: "unhealthy wins", checkers: []Checker{
			stubChecker{name: "a", err: errors.New("down")},
			stubChecker{name: "b", err: Degraded(errors.New("slow"))},
		}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}
			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

type stubBroker struct{ status connection.Status }

func (s stubBroker) Status() connection.Status { return s.status }

func TestBrokerChecker(t *testing.T) {
	open := NewBrokerChecker(stubBroker{connection.Status{State: "open"}})
	assert.NoError(t, open.Check(context.Background()))

	reconnecting := NewBrokerChecker(stubBroker{connection.Status{State: "connecting", Address: "h:5672"}})
	err := reconnecting.Check(context.Background())
	var d degradedError
	assert.ErrorAs(t, err, &d)

	errored := NewBrokerChecker(stubBroker{connection.Status{State: "errored", LastError: "reset by peer"}})
	err = errored.Check(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reset by peer")
	assert.False(t, errors.As(err, &d))
}

type slowChecker struct{}

func (slowChecker) Name() string { return "slow" }
func (slowChecker) Check(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCheckerRegistry_TimeoutAndDetails(t *testing.T) {
	r := NewCheckerRegistry()
	r.timeout = 20 * time.Millisecond
	r.Register(slowChecker{})
	r.Register(NewBrokerChecker(stubBroker{connection.Status{State: "open", Generation: 3}}))

	h := r.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, http.StatusServiceUnavailable, h.HTTPStatus())
	assert.Contains(t, h.Checks["slow"].Message, "deadline exceeded")

	broker := h.Checks["broker"]
	assert.Equal(t, StatusHealthy, broker.Status)
	assert.Equal(t, connection.Status{State: "open", Generation: 3}, broker.Details)
}

func TestHealth_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, Health{Status: StatusHealthy}.HTTPStatus())
	assert.Equal(t, http.StatusOK, Health{Status: StatusDegraded}.HTTPStatus())
}
