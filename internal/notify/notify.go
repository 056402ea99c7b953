// Package notify pushes operator alerts and routes operator chat commands.
// Every outbound send is best-effort: failures are logged and counted,
// never raised into the caller.
package notify

import (
	"context"
	"fmt"
	"time"

	"trading_bot/internal/core"
	"trading_bot/pkg/concurrency"
	"trading_bot/pkg/httpclient"
	"trading_bot/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// sendTimeout bounds one push attempt
const sendTimeout = 10 * time.Second

// Channel is one outbound message transport
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// lineAPIBaseURL is the production push endpoint host
const lineAPIBaseURL = "https://api.line.me"

// LineChannel pushes messages to one operator over the LINE messaging API
type LineChannel struct {
	client     *httpclient.Client
	operatorID string
}

// NewLineChannel builds the push channel. baseURL overrides the production
// endpoint, for tests.
func NewLineChannel(channelToken, operatorID, baseURL string) *LineChannel {
	if baseURL == "" {
		baseURL = lineAPIBaseURL
	}
	client := httpclient.NewClient(baseURL, sendTimeout, nil)
	client.SetHeader("Authorization", "Bearer "+channelToken)
	return &LineChannel{client: client, operatorID: operatorID}
}

// Name identifies the transport
func (c *LineChannel) Name() string { return "line" }

// Send pushes one text message to the operator
func (c *LineChannel) Send(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"to": c.operatorID,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	}
	if _, err := c.client.Post(ctx, "/v2/bot/message/push", payload); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}

// Notifier fans typed alerts out to its channel on the worker pool
type Notifier struct {
	channel Channel
	pool    *concurrency.WorkerPool
	logger  core.ILogger
}

// NewNotifier builds a notifier. channel may be nil, which turns every send
// into a no-op — the bot runs fine without a chat platform configured.
func NewNotifier(channel Channel, pool *concurrency.WorkerPool, logger core.ILogger) *Notifier {
	return &Notifier{
		channel: channel,
		pool:    pool,
		logger:  logger.WithField("component", "notifier"),
	}
}

// send dispatches asynchronously; kind labels the metrics
func (n *Notifier) send(kind, text string) {
	if n.channel == nil {
		return
	}

	metrics := telemetry.GetGlobalMetrics()
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("channel", n.channel.Name()),
	)

	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		metrics.NotificationsTotal.Add(ctx, 1, attrs)
		if err := n.channel.Send(ctx, text); err != nil {
			n.logger.Error("Notification send failed", "kind", kind, "error", err)
			return
		}
		n.logger.Debug("Notification sent", "kind", kind)
	}

	if err := n.pool.Submit(task); err != nil {
		n.logger.Error("Notification submission failed", "kind", kind, "error", err)
	}
}

// TradeSignal announces a filled order
func (n *Notifier) TradeSignal(symbol string, side core.OrderSide, amount, price string) {
	n.send("trade_signal", fmt.Sprintf("Trade executed\n%s %s\namount: %s\nprice: %s",
		side, symbol, amount, price))
}

// StopLoss announces a stop-loss close
func (n *Notifier) StopLoss(symbol, entry, current string) {
	n.send("stop_loss", fmt.Sprintf("Stop-loss triggered\n%s\nentry: %s\ncurrent: %s",
		symbol, entry, current))
}

// TakeProfit announces a take-profit close
func (n *Notifier) TakeProfit(symbol, entry, current string) {
	n.send("take_profit", fmt.Sprintf("Take-profit triggered\n%s\nentry: %s\ncurrent: %s",
		symbol, entry, current))
}

// Panic announces an emergency close-all
func (n *Notifier) Panic(reason string, closed int) {
	n.send("panic", fmt.Sprintf("PANIC: trading suspended\nreason: %s\npositions closed: %d",
		reason, closed))
}

// Text pushes a free-form message
func (n *Notifier) Text(text string) {
	n.send("text", text)
}
