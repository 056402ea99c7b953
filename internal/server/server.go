// Package server exposes the bot's HTTP surface: the operator webhook, the
// health endpoint and the read-only status and market views.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trading_bot/internal/core"
	"trading_bot/internal/infrastructure/health"
	"trading_bot/internal/store"

	"github.com/gorilla/mux"
)

// maxWebhookBody bounds the request body read
const maxWebhookBody = 1 << 20

// CommandHandler routes one operator command to its effect
type CommandHandler interface {
	Handle(ctx context.Context, text string) string
}

// StatsProvider contributes one named block to /api/status
type StatsProvider func(ctx context.Context) (string, interface{})

// Config carries the HTTP surface settings
type Config struct {
	Port          int
	ChannelSecret string
	Timeframe     string
}

// Server is the bot's HTTP API
type Server struct {
	cfg      Config
	store    *store.MarketStore
	health   *health.Manager
	commands CommandHandler
	stats    []StatsProvider
	logger   core.ILogger
	srv      *http.Server
}

// New wires the HTTP surface. commands may be nil, which disables the
// webhook's effects but keeps signature verification testable.
func New(cfg Config, st *store.MarketStore, hm *health.Manager, commands CommandHandler,
	stats []StatsProvider, logger core.ILogger) *Server {
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1m"
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		health:   hm,
		commands: commands,
		stats:    stats,
		logger:   logger.WithField("component", "http_server"),
	}
}

// Router builds the route table; exposed for httptest
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/market/{symbol}", s.handleMarket).Methods(http.MethodGet)
	return r
}

// Start serves in the background
func (s *Server) Start() {
	if s.srv != nil {
		return
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		s.logger.Info("HTTP API listening", "port", s.cfg.Port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	return s.srv.Shutdown(ctx)
}

// webhookEvent is the subset of the operator platform's event payload the
// bot acts on
type webhookEvent struct {
	Type    string `json:"type"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
	ReplyToken string `json:"replyToken"`
}

type webhookPayload struct {
	Events []webhookEvent `json:"events"`
}

// verifySignature checks the platform's HMAC over the raw body
func (s *Server) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.cfg.ChannelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError,
			map[string]string{"status": "error", "message": "body read failed"})
		return
	}

	if !s.verifySignature(body, r.Header.Get("X-Line-Signature")) {
		s.logger.Warn("Webhook signature mismatch", "remote", r.RemoteAddr)
		// 400 with an empty body, by contract with the platform
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeJSON(w, http.StatusInternalServerError,
			map[string]string{"status": "error", "message": "malformed payload"})
		return
	}

	for _, event := range payload.Events {
		if event.Type != "message" || event.Message.Type != "text" {
			continue
		}
		if s.commands == nil {
			continue
		}
		reply := s.commands.Handle(r.Context(), event.Message.Text)
		s.logger.Info("Webhook command handled",
			"command", event.Message.Text, "reply_len", len(reply))
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, healthy := s.health.Status(r.Context())

	resp := make(map[string]string, len(status)+1)
	for dep, state := range status {
		resp[dep] = state
	}
	if healthy {
		resp["status"] = "healthy"
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	resp["status"] = "unhealthy"
	s.writeJSON(w, http.StatusServiceUnavailable, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := make(map[string]interface{})

	counts := make(map[string]int64)
	for _, table := range []string{store.TableOHLCV, store.TableChainMetrics, store.TableNetflows} {
		n, err := s.store.Count(ctx, table)
		if err != nil {
			s.writeJSON(w, http.StatusInternalServerError,
				map[string]string{"status": "error", "message": err.Error()})
			return
		}
		counts[table] = n
	}
	resp["counts"] = counts

	for _, provider := range s.stats {
		name, block := provider(ctx)
		resp[name] = block
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	// Path symbols use a dash: /api/market/BTC-USDT maps to BTC/USDT
	symbol := strings.ReplaceAll(mux.Vars(r)["symbol"], "-", "/")
	if _, _, err := core.SplitSymbol(symbol); err != nil {
		s.writeJSON(w, http.StatusBadRequest,
			map[string]string{"status": "error", "message": err.Error()})
		return
	}

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = s.cfg.Timeframe
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			s.writeJSON(w, http.StatusBadRequest,
				map[string]string{"status": "error", "message": "limit must be in [1, 1000]"})
			return
		}
		limit = n
	}

	bars, err := s.store.QueryBars(r.Context(), symbol, timeframe, false, limit)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError,
			map[string]string{"status": "error", "message": err.Error()})
		return
	}

	type barView struct {
		OpenTime int64   `json:"open_time"`
		Open     float64 `json:"open"`
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Close    float64 `json:"close"`
		Volume   float64 `json:"volume"`
	}
	views := make([]barView, len(bars))
	for i, b := range bars {
		views[i] = barView{
			OpenTime: b.OpenTime, Open: b.Open, High: b.High,
			Low: b.Low, Close: b.Close, Volume: b.Volume,
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
		"bars":      views,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encoding failed", "error", err)
	}
}
