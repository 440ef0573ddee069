package http

import (
	"github.com/gin-gonic/gin"
	"github.com/qshelter/payment-ledger/internal/config"
	"github.com/qshelter/payment-ledger/internal/service"
	"go.uber.org/zap"
)

// NewRouter wires middleware and the ledger routes.
func NewRouter(wallets *service.WalletService, alloc *service.AllocationService, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, &Handler{wallets: wallets, alloc: alloc, log: log})
	return r
}
