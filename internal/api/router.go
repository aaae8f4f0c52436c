// Package api exposes the member and ledger operations over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"referral-ledger/internal/service"
	"referral-ledger/internal/utils"
)

type Server struct {
	console  *service.Console
	accounts *service.Accounts
	allow    *utils.Allowlist
	log      *zap.Logger
}

func NewServer(console *service.Console, accounts *service.Accounts, allow *utils.Allowlist, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{console: console, accounts: accounts, allow: allow, log: log}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(metrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/login", s.login)
	api.POST("/signup", s.signup)

	authed := api.Group("/")
	authed.Use(s.authRequired())
	authed.GET("/me", s.profile)

	admin := api.Group("/admin")
	admin.Use(s.authRequired(), s.adminOnly())
	{
		admin.GET("/members", s.listMembers)
		admin.POST("/members", s.createMember)
		admin.PATCH("/members", s.updateMembers)
		admin.DELETE("/members/:id", s.deleteMember)
		admin.POST("/members/:id/password", s.resetPassword)

		admin.POST("/settlements", s.settle)
		admin.GET("/ledger", s.queryLedger)
		admin.GET("/ledger/summary", s.ledgerSummary)

		admin.GET("/integrity", s.integrity)
		admin.POST("/integrity/repair", s.repairReferrers)
		admin.POST("/referrals/recalc", s.recalcReferrals)

		admin.GET("/report", s.report)
		admin.GET("/export/members.csv", s.exportMembers)
		admin.GET("/export/ledger.csv", s.exportLedger)
	}

	return r
}
