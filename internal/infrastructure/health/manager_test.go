package health

import (
	"context"
	"errors"
	"testing"

	"trading_bot/internal/core"

	"github.com/stretchr/testify/assert"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                     {}
func (nopLogger) Info(string, ...interface{})                      {}
func (nopLogger) Warn(string, ...interface{})                      {}
func (nopLogger) Error(string, ...interface{})                     {}
func (nopLogger) Fatal(string, ...interface{})                     {}
func (l nopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func TestStatusAggregatesChecks(t *testing.T) {
	m := NewManager(nopLogger{})
	ctx := context.Background()

	status, healthy := m.Status(ctx)
	assert.True(t, healthy, "no checks means healthy")
	assert.Empty(t, status)

	m.Register("database", func(context.Context) error { return nil })
	m.Register("cache", func(context.Context) error { return errors.New("connection refused") })

	status, healthy = m.Status(ctx)
	assert.False(t, healthy)
	assert.Equal(t, "connected", status["database"])
	assert.Equal(t, "connection refused", status["cache"])
	assert.False(t, m.Healthy(ctx))
}

func TestRegisterReplaces(t *testing.T) {
	m := NewManager(nopLogger{})
	ctx := context.Background()

	m.Register("cache", func(context.Context) error { return errors.New("down") })
	assert.False(t, m.Healthy(ctx))

	m.Register("cache", func(context.Context) error { return nil })
	assert.True(t, m.Healthy(ctx))
}
