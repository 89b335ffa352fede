package stats

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Snowgem/XsgTwitterFaucet/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const recentDaysServed = 30

var (
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingStatsService  = errors.New("stats service dependency required")
	errMissingBalanceReader = errors.New("balance reader dependency required")
)

// BalanceReader exposes the current faucet balance to the admin API.
type BalanceReader interface {
	GetBalance(ctx context.Context) (float64, error)
}

// Dependencies wires the admin API handler.
type Dependencies struct {
	Tokens  *auth.TokenIssuer
	Stats   *Service
	Balance BalanceReader
	Logger  *zap.Logger
}

// NewHTTPHandler builds the admin/stats API: a health probe, an admin-secret
// token exchange, and bearer-guarded stats and balance endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Stats == nil {
		return nil, errMissingStatsService
	}
	if deps.Balance == nil {
		return nil, errMissingBalanceReader
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:  deps.Tokens,
		stats:   deps.Stats,
		balance: deps.Balance,
		logger:  logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/stats", handler.handleStats)
	protected.GET("/balance", handler.handleBalance)

	return router, nil
}

type httpHandler struct {
	tokens  *auth.TokenIssuer
	stats   *Service
	balance BalanceReader
	logger  *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tokenRequestPayload struct {
	Secret string `json:"secret"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Secret) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueAdminToken(request.Secret)
	if errors.Is(err, auth.ErrInvalidAdminSecret) {
		h.logger.Warn("admin token exchange rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.tokens.ValidateToken(strings.TrimPrefix(header, "Bearer ")); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Next()
}

func (h *httpHandler) handleStats(c *gin.Context) {
	summary, err := h.stats.Summarize(c.Request.Context(), recentDaysServed)
	if err != nil {
		h.logger.Error("failed to summarize payouts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleBalance(c *gin.Context) {
	balance, err := h.balance.GetBalance(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to query faucet balance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
