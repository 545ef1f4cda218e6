package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"trading-assistant/internal/access"
	"trading-assistant/internal/database"
	"trading-assistant/internal/metrics"
	"trading-assistant/internal/ocr"
	"trading-assistant/internal/session"
)

// ============================================================================
// ANALYSIS HANDLERS
// ============================================================================

// chartPoint is one candle as dashboard clients send it. Close arrives as a
// string or a number depending on the client version.
type chartPoint struct {
	Close json.RawMessage `json:"close"`
}

// closeValue parses a close however the client encoded it. Anything that is
// not a number comes back as NaN, which the engine reports as ERROR.
func closeValue(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}

	return math.NaN()
}

type analyzeChartRequest struct {
	UserID    string       `json:"user_id"`
	ChartData []chartPoint `json:"chart_data"`
}

type analyzeBalanceRequest struct {
	UserID string      `json:"user_id"`
	Image  string      `json:"image"`
	Rect   *ocr.Region `json:"rect"`
}

// checkRoster gates an analysis request on the user allow-list. Writes the
// response and returns false when the request must not proceed.
func (s *Server) checkRoster(c *gin.Context, userID string) bool {
	err := s.gate.Check(userID)
	if err == nil {
		return true
	}

	var denied *access.DeniedError
	if errors.As(err, &denied) {
		c.JSON(http.StatusForbidden, gin.H{
			"status":  "access_denied",
			"message": "User not authorized",
		})
		return false
	}

	errorResponse(c, http.StatusInternalServerError, "authorization check failed")
	return false
}

// handleAnalyzeChart evaluates a close-price series and returns the signal
func (s *Server) handleAnalyzeChart(c *gin.Context) {
	var req analyzeChartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.checkRoster(c, req.UserID) {
		return
	}

	if len(req.ChartData) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No chart data provided"})
		return
	}

	// Unparsable closes poison the series, which the engine reports as ERROR.
	series := make([]float64, len(req.ChartData))
	for i, p := range req.ChartData {
		series[i] = closeValue(p.Close)
	}

	decision := s.engine.Evaluate(series)
	metrics.IncDecision(string(decision.Signal))

	ctx := c.Request.Context()
	if s.history != nil {
		if err := s.history.RecordSignalDecision(ctx, req.UserID, string(decision.Signal), decision.Confidence, len(series)); err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to record decision")
			return
		}
	}
	if s.eventBus != nil {
		s.eventBus.PublishSignal(req.UserID, string(decision.Signal), decision.Confidence)
	}
	s.pushFrame(ctx, req.UserID, series, nil)

	c.JSON(http.StatusOK, decision)
}

// handleAnalyzeBalance extracts the account balance from a screenshot region
func (s *Server) handleAnalyzeBalance(c *gin.Context) {
	var req analyzeBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.checkRoster(c, req.UserID) {
		return
	}

	if req.Image == "" || req.Rect == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image or rect data provided"})
		return
	}

	ctx := c.Request.Context()

	img, err := ocr.DecodeImagePayload(req.Image)
	if err != nil {
		s.recordBalance(ctx, req.UserID, nil)
		c.JSON(http.StatusOK, gin.H{"balance": nil})
		return
	}

	balance, err := s.extractor.Extract(img, *req.Rect)
	if err != nil {
		// The only extractor error is a degenerate or out-of-bounds rect.
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid crop region"})
		return
	}

	if !balance.Valid {
		s.recordBalance(ctx, req.UserID, nil)
		c.JSON(http.StatusOK, gin.H{"balance": nil})
		return
	}

	value := balance.Value
	s.recordBalance(ctx, req.UserID, &value)
	s.pushFrame(ctx, req.UserID, nil, &value)

	if s.sessions != nil {
		if _, err := s.sessions.ObserveBalance(ctx, req.UserID, value); err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to apply balance reading")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"balance": value})
}

// recordBalance stores one extraction attempt in the history table and the
// extraction counter. Recording is best effort.
func (s *Server) recordBalance(ctx context.Context, userID string, value *float64) {
	metrics.IncExtraction(value != nil)
	if s.history != nil {
		_ = s.history.RecordBalanceReading(ctx, userID, value)
	}
}

// pushFrame merges new data into the user's latest market frame so the
// polling loop sees what the dashboard last sent.
func (s *Server) pushFrame(ctx context.Context, userID string, series []float64, balance *float64) {
	if s.stateRepo == nil {
		return
	}

	frame := &database.MarketFrame{Series: series, Balance: balance}
	if prev, err := s.stateRepo.LoadFrame(ctx, userID); err == nil && prev != nil {
		if series == nil {
			frame.Series = prev.Series
		}
		if balance == nil {
			frame.Balance = prev.Balance
		}
	}

	_ = s.stateRepo.SaveFrame(ctx, userID, frame)
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

type sessionStartRequest struct {
	APIToken             string   `json:"api_token"`
	BaseAmount           float64  `json:"base_amount"`
	TPTarget             *float64 `json:"tp_target"`
	MaxConsecutiveLosses int      `json:"max_consecutive_losses"`
}

type tradeOutcomeRequest struct {
	Won *bool `json:"won"`
}

// sessionErrorResponse maps session errors onto HTTP statuses: malformed
// input is 400, a precondition violation is 409, anything else is storage.
func sessionErrorResponse(c *gin.Context, err error) {
	var verr session.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Code, "message": verr.Message})
		return
	}

	var terr session.TransitionError
	if errors.As(err, &terr) {
		c.JSON(http.StatusConflict, gin.H{"error": terr.Code, "message": terr.Message})
		return
	}

	errorResponse(c, http.StatusInternalServerError, "session operation failed")
}

// handleSessionStatus returns the caller's session state
func (s *Server) handleSessionStatus(c *gin.Context) {
	userID, ok := s.getUserIDRequired(c)
	if !ok {
		return
	}

	sess, err := s.sessions.Get(c.Request.Context(), userID)
	if err != nil {
		sessionErrorResponse(c, err)
		return
	}

	successResponse(c, sess)
}

// handleSessionLogs returns the caller's session history
func (s *Server) handleSessionLogs(c *gin.Context) {
	userID, ok := s.getUserIDRequired(c)
	if !ok {
		return
	}

	logs, err := s.sessions.Logs(c.Request.Context(), userID)
	if err != nil {
		sessionErrorResponse(c, err)
		return
	}

	successResponse(c, logs)
}

// handleSessionStart starts the caller's trading session
func (s *Server) handleSessionStart(c *gin.Context) {
	userID, ok := s.getUserIDRequired(c)
	if !ok {
		return
	}

	var req sessionStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.sessions.Start(c.Request.Context(), userID, session.StartParams{
		APIToken:             req.APIToken,
		BaseAmount:           req.BaseAmount,
		TPTarget:             req.TPTarget,
		MaxConsecutiveLosses: req.MaxConsecutiveLosses,
	})
	if err != nil {
		sessionErrorResponse(c, err)
		return
	}

	if s.loops != nil {
		s.loops.StartLoop(userID)
	}

	successResponse(c, sess)
}

// handleSessionStop stops the caller's trading session
func (s *Server) handleSessionStop(c *gin.Context) {
	userID, ok := s.getUserIDRequired(c)
	if !ok {
		return
	}

	sess, err := s.sessions.Stop(c.Request.Context(), userID)
	if err != nil {
		sessionErrorResponse(c, err)
		return
	}

	if s.loops != nil {
		s.loops.StopLoop(userID)
	}

	successResponse(c, sess)
}

// handleTradeOpen marks a trade as placed
func (s *Server) handleTradeOpen(c *gin.Context) {
	userID, ok := s.getUserIDRequired(c)
	if !ok {
		return
	}

	sess, err := s.sessions.OpenTrade(c.Request.Context(), userID)
	if err != nil {
		sessionErrorResponse(c, err)
		return
	}

	successResponse(c, sess)
}

// handleTradeOutcome records the result of the open trade
func (s *Server) handleTradeOutcome(c *gin.Context) {
	userID, ok := s.getUserIDRequired(c)
	if !ok {
		return
	}

	var req tradeOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Won == nil {
		errorResponse(c, http.StatusBadRequest, "won is required")
		return
	}

	sess, err := s.sessions.RecordOutcome(c.Request.Context(), userID, *req.Won)
	if err != nil {
		sessionErrorResponse(c, err)
		return
	}

	if !sess.IsRunning && s.loops != nil {
		// Loss-limit halt; the polling loop has nothing left to do.
		s.loops.StopLoop(userID)
	}

	successResponse(c, sess)
}
