package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/learnpath/learnpath-core/pkg/circuitbreaker"
)

func TestHealthChecker_NoChecks(t *testing.T) {
	status := NewHealthChecker("v1").Check(context.Background())

	assert.True(t, status.Ready)
	assert.Equal(t, "v1", status.Version)
	assert.Empty(t, status.Checks)
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	hc := NewHealthChecker("v1")
	hc.SetTimeout(10 * time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())

	assert.False(t, status.Ready)
	assert.False(t, status.Checks["slow"].Healthy)
}

func TestBreakerCheck(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.Settings{Name: "certification", MaxFailures: 1, Cooldown: time.Hour})
	check := NewBreakerCheck("certification", cb)

	assert.NoError(t, check(context.Background()))

	_ = cb.Execute(context.Background(), func(context.Context) error { return assert.AnError })
	assert.EqualError(t, check(context.Background()), "certification circuit breaker is open")
}
