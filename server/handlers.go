package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"keymarket/curve"
	"keymarket/market"
)

// defaultMaxImpactPct is applied when a max-size request omits the
// tolerance.
var defaultMaxImpactPct = decimal.NewFromInt(10)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Creator string `json:"creator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errBadPayload)
		return
	}
	state, err := s.engine.CreateKeys(r.Context(), req.Subject, req.Creator)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.engine.Metrics(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Subject      string          `json:"subject"`
		Price        decimal.Decimal `json:"price"`
		PriceDisplay string          `json:"price_display"`
		Supply       decimal.Decimal `json:"supply"`
		MarketCap    decimal.Decimal `json:"market_cap"`
	}{
		Subject:      metrics.Subject,
		Price:        metrics.CurrentPrice,
		PriceDisplay: curve.FormatPrice(metrics.CurrentPrice),
		Supply:       metrics.Supply,
		MarketCap:    metrics.MarketCap,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.engine.Metrics(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	resp := struct {
		*market.KeyMetrics
		Display struct {
			Price     string `json:"price"`
			MarketCap string `json:"marketCap"`
			Liquidity string `json:"liquidity"`
			Supply    string `json:"supply"`
		} `json:"display"`
	}{KeyMetrics: metrics}
	resp.Display.Price = curve.FormatPrice(metrics.CurrentPrice)
	resp.Display.MarketCap = curve.FormatPrice(metrics.MarketCap)
	resp.Display.Liquidity = curve.FormatPrice(metrics.Liquidity)
	resp.Display.Supply = curve.FormatAmount(metrics.Supply)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side   string `json:"side"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errBadPayload)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	subject := chi.URLParam(r, "subject")
	var quote curve.Quote
	switch strings.ToLower(strings.TrimSpace(req.Side)) {
	case "buy":
		quote, err = s.engine.QuoteBuy(r.Context(), subject, amount)
	case "sell":
		quote, err = s.engine.QuoteSell(r.Context(), subject, amount)
	default:
		writeError(w, s.logger, errUnknownSide)
		return
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side     string `json:"side"`
		Account  string `json:"account"`
		Amount   string `json:"amount"`
		Referrer string `json:"referrer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errBadPayload)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	subject := chi.URLParam(r, "subject")
	var receipt *market.TradeReceipt
	switch strings.ToLower(strings.TrimSpace(req.Side)) {
	case "buy":
		receipt, err = s.engine.ExecuteBuy(r.Context(), subject, req.Account, amount, req.Referrer)
	case "sell":
		receipt, err = s.engine.ExecuteSell(r.Context(), subject, req.Account, amount, req.Referrer)
	default:
		writeError(w, s.logger, errUnknownSide)
		return
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleMaxSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side         string `json:"side"`
		MaxImpactPct string `json:"max_impact_pct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errBadPayload)
		return
	}
	maxImpact := defaultMaxImpactPct
	if raw := strings.TrimSpace(req.MaxImpactPct); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, s.logger, errBadAmount)
			return
		}
		maxImpact = parsed
	}
	var isBuy bool
	side := strings.ToLower(strings.TrimSpace(req.Side))
	switch side {
	case "buy":
		isBuy = true
	case "sell":
		isBuy = false
	default:
		writeError(w, s.logger, errUnknownSide)
		return
	}
	subject := chi.URLParam(r, "subject")
	size, err := s.engine.MaxTradeSize(r.Context(), subject, maxImpact, isBuy)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Subject        string          `json:"subject"`
		Side           string          `json:"side"`
		MaxSize        decimal.Decimal `json:"max_size"`
		MaxSizeDisplay string          `json:"max_size_display"`
	}{
		Subject:        strings.TrimSpace(subject),
		Side:           side,
		MaxSize:        size,
		MaxSizeDisplay: curve.FormatAmount(size),
	})
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	account := chi.URLParam(r, "account")
	ok, err := s.engine.HasAccess(r.Context(), subject, account)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Subject   string `json:"subject"`
		Account   string `json:"account"`
		HasAccess bool   `json:"has_access"`
	}{
		Subject:   strings.TrimSpace(subject),
		Account:   strings.TrimSpace(account),
		HasAccess: ok,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	totals, err := s.engine.Status(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

var (
	errBadPayload  = errors.New("invalid payload")
	errBadAmount   = errors.New("invalid amount")
	errUnknownSide = errors.New("side must be buy or sell")
)

func parseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, errBadAmount
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, errBadAmount
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("server: request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadPayload), errors.Is(err, errBadAmount), errors.Is(err, errUnknownSide):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrInvalidSubject), errors.Is(err, market.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, curve.ErrInvalidAmount), errors.Is(err, curve.ErrInvalidSupply), errors.Is(err, curve.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrUnknownSubject):
		return http.StatusNotFound
	case errors.Is(err, market.ErrSubjectExists), errors.Is(err, market.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, market.ErrInsufficientKeys), errors.Is(err, market.ErrTradeTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, curve.ErrSupplyExhausted), errors.Is(err, curve.ErrNoSupply):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
