package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/qshelter/payment-ledger/internal/model"
	"github.com/qshelter/payment-ledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler serves the synchronous ledger API.
type Handler struct {
	wallets *service.WalletService
	alloc   *service.AllocationService
	log     *zap.SugaredLogger
}

func RegisterHandlers(r *gin.Engine, h *Handler) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	v1 := r.Group("/v1")
	{
		v1.POST("/wallets", h.openWallet)
		v1.POST("/wallets/:id/credit", h.entry(model.DirectionCredit))
		v1.POST("/wallets/:id/debit", h.entry(model.DirectionDebit))
		v1.GET("/wallets/:id/balance", h.balance)
		v1.GET("/wallets/:id/transactions", h.transactions)
		v1.POST("/allocations", h.allocate)
		v1.POST("/installments/:id/payments", h.payInstallment)
	}
}

type openWalletReq struct {
	UserID   string `json:"userId" binding:"required"`
	TenantID string `json:"tenantId" binding:"required"`
	Currency string `json:"currency" binding:"omitempty,len=3"`
}

// openWallet is safe to repeat: an owner keeps the wallet it was first given.
func (h *Handler) openWallet(c *gin.Context) {
	var req openWalletReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
		return
	}
	w, err := h.wallets.OpenWallet(c.Request.Context(), req.UserID, req.TenantID, req.Currency)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type entryReq struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference" binding:"required"`
	Description string          `json:"description"`
}

func (h *Handler) entry(dir model.Direction) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entryReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
			return
		}
		in := service.EntryRequest{
			WalletID: c.Param("id"), Amount: req.Amount, Reference: req.Reference, Description: req.Description,
		}
		var (
			res *service.LedgerResult
			err error
		)
		if dir == model.DirectionDebit {
			res, err = h.wallets.Debit(c.Request.Context(), in)
		} else {
			res, err = h.wallets.Credit(c.Request.Context(), in)
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, res)
	}
}

func (h *Handler) balance(c *gin.Context) {
	id := c.Param("id")
	bal, err := h.wallets.GetBalance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"walletId": id, "balance": bal.StringFixed(2)})
}

func (h *Handler) transactions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "invalid limit"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "invalid offset"))
		return
	}
	txs, err := h.wallets.ListTransactions(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": txs, "limit": limit, "offset": offset})
}

type allocateReq struct {
	UserID    string           `json:"userId" binding:"required"`
	WalletID  string           `json:"walletId" binding:"required"`
	ScopeID   string           `json:"scopeId"`
	MaxAmount *decimal.Decimal `json:"maxAmount"`
}

func (h *Handler) allocate(c *gin.Context) {
	var req allocateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
		return
	}
	res, err := h.alloc.AutoAllocate(c.Request.Context(), service.AllocateRequest{
		OwnerID: req.UserID, WalletID: req.WalletID, ScopeID: req.ScopeID, MaxAmount: req.MaxAmount,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type paymentReq struct {
	UserID    string          `json:"userId" binding:"required"`
	WalletID  string          `json:"walletId" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" binding:"required"`
}

func (h *Handler) payInstallment(c *gin.Context) {
	var req paymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
		return
	}
	res, err := h.alloc.PayInstallment(c.Request.Context(), service.PayInstallmentRequest{
		InstallmentID: c.Param("id"), Amount: req.Amount, WalletID: req.WalletID,
		OwnerID: req.UserID, Reference: req.Reference,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, errorBody(code, err.Error()))
}

// classify maps domain errors to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	case errors.Is(err, model.ErrWalletInactive):
		return http.StatusConflict, "WALLET_INACTIVE"
	case errors.Is(err, model.ErrInstallmentSettled):
		return http.StatusConflict, "INSTALLMENT_SETTLED"
	case errors.Is(err, model.ErrConcurrentUpdate):
		return http.StatusConflict, "CONCURRENT_UPDATE"
	case errors.Is(err, model.ErrUpstream):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}
