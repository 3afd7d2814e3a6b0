package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"payment-service/internal/service"
	"payment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Signature headers the processor attaches to every webhook delivery.
const (
	headerSignature = "sign"
	headerTimestamp = "timestamp"
)

// Handler contains HTTP handlers
type Handler struct {
	trades      *service.TradeService
	reconciler  *service.Reconciler
	instruments *service.InstrumentSync
	webhooks    *service.WebhookProcessor
}

// NewHandler creates a new HTTP handler
func NewHandler(
	trades *service.TradeService,
	reconciler *service.Reconciler,
	instruments *service.InstrumentSync,
	webhooks *service.WebhookProcessor,
) *Handler {
	return &Handler{
		trades:      trades,
		reconciler:  reconciler,
		instruments: instruments,
		webhooks:    webhooks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payments", h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/trades", h.createTrade)
		v1.GET("/purchases/:id", h.getPurchase)
		v1.POST("/purchases/:id/confirm", h.confirmCustomerAction)
		v1.GET("/purchases/:id/return", h.handleRedirectReturn)
		v1.POST("/purchases/:id/cancel", h.cancelPurchase)
		v1.POST("/purchases/:id/capture", h.capturePurchase)
		v1.POST("/purchases/:id/refunds", h.createRefund)
		v1.POST("/purchases/:id/reconcile", h.reconcilePurchase)

		v1.POST("/customers", h.createCustomer)
		v1.GET("/customers/:id/token", h.customerToken)
		v1.GET("/customers/:id/instruments", h.listInstruments)
		v1.DELETE("/customers/:id/instruments/:instrumentId", h.unbindInstrument)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createTrade handles checkout submissions
func (h *Handler) createTrade(c *gin.Context) {
	var req service.CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.trades.CreateTrade(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to create trade",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getPurchase handles get purchase by ID
func (h *Handler) getPurchase(c *gin.Context) {
	purchaseID, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	purchase, err := h.trades.GetPurchase(c.Request.Context(), purchaseID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Purchase not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, purchase)
}

// confirmCustomerAction re-checks a trade pending a customer step
func (h *Handler) confirmCustomerAction(c *gin.Context) {
	purchaseID, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	resp, err := h.trades.ConfirmCustomerAction(c.Request.Context(), purchaseID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to confirm trade",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleRedirectReturn settles a purchase when the customer lands back from
// the processor's hosted page
func (h *Handler) handleRedirectReturn(c *gin.Context) {
	purchaseID, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	purchase, err := h.reconciler.HandleRedirectReturn(c.Request.Context(), purchaseID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to settle purchase",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, purchase)
}

// cancelPurchase cancels a non-terminal purchase
func (h *Handler) cancelPurchase(c *gin.Context) {
	purchaseID, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	purchase, err := h.trades.CancelPurchase(c.Request.Context(), purchaseID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to cancel purchase",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, purchase)
}

// capturePurchase captures a previously authorized trade
func (h *Handler) capturePurchase(c *gin.Context) {
	purchaseID, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	purchase, err := h.trades.Capture(c.Request.Context(), purchaseID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to capture trade",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, purchase)
}

type createRefundRequest struct {
	Amount string `json:"amount" binding:"required"`
	Reason string `json:"reason,omitempty"`
}

// createRefund initiates a refund for a paid purchase
func (h *Handler) createRefund(c *gin.Context) {
	purchaseID, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	purchase, err := h.trades.CreateRefund(c.Request.Context(), purchaseID, req.Amount, req.Reason)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to create refund",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, purchase)
}

// reconcilePurchase forces a reconcile pass for one purchase, used by
// operators when a trade looks stuck
func (h *Handler) reconcilePurchase(c *gin.Context) {
	purchaseID, ok := purchaseIDParam(c)
	if !ok {
		return
	}

	purchase, err := h.reconciler.Reconcile(c.Request.Context(), purchaseID, "manual")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Reconcile failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, purchase)
}

type createCustomerRequest struct {
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// createCustomer registers a processor-side customer record
func (h *Handler) createCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	customerID, err := h.instruments.EnsureCustomer(c.Request.Context(), req.Email, req.Name, req.Phone, req.CountryCode)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to create customer",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"customer_id": customerID})
}

// customerToken fetches a short-lived client token for the checkout SDK
func (h *Handler) customerToken(c *gin.Context) {
	token, err := h.instruments.CustomerToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to fetch customer token",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// listInstruments returns the customer's saved instruments, from cache
// unless ?fresh=true forces a processor fetch
func (h *Handler) listInstruments(c *gin.Context) {
	fresh := c.Query("fresh") == "true"
	instruments := h.instruments.Sync(c.Request.Context(), c.Param("id"), fresh)
	c.JSON(http.StatusOK, gin.H{"instruments": instruments})
}

// unbindInstrument removes a saved instrument
func (h *Handler) unbindInstrument(c *gin.Context) {
	err := h.instruments.Unbind(c.Request.Context(), c.Param("id"), c.Param("instrumentId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to unbind instrument",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unbound"})
}

// handleWebhook receives processor notifications. The raw body is read
// before any decoding so signature verification covers the exact bytes sent.
func (h *Handler) handleWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	err = h.webhooks.Process(
		c.Request.Context(),
		rawBody,
		c.GetHeader(headerSignature),
		c.GetHeader(headerTimestamp),
	)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Webhook rejected",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func purchaseIDParam(c *gin.Context) (int64, bool) {
	purchaseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid purchase ID",
		})
		return 0, false
	}
	return purchaseID, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
