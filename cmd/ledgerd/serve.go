package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"referral-ledger/internal/api"
	"referral-ledger/internal/notify"
	"referral-ledger/internal/utils"
	"referral-ledger/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the referral auditor",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	allow, err := utils.ParseAllowlist(a.cfg.AdminAllowedCIDRs)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.Log{Logger: a.log.Named("alerts")}
	if a.cfg.TelegramBotToken != "" && a.cfg.TelegramAdminChatID != 0 {
		tg, err := notify.NewTelegram(a.cfg.TelegramBotToken, a.cfg.TelegramAdminChatID)
		if err != nil {
			a.log.Warn("telegram alerts disabled", zap.Error(err))
		} else {
			notifier = tg
		}
	}
	auditor := worker.NewAuditor(a.members, notifier, a.redis, a.cfg.AuditInterval, a.log.Named("auditor"))
	go auditor.Start(ctx)

	if a.cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.NewServer(a.console, a.accounts, allow, a.log.Named("http")).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
