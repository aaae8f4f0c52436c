// Package settlement posts monetary adjustments to a member's accumulated profit together
// with the matching ledger entry.
package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-ledger/internal/apperr"
	"referral-ledger/internal/models"
	"referral-ledger/internal/monitoring"
)

type Members interface {
	Get(ctx context.Context, id string) (models.Member, error)
	AdjustProfit(ctx context.Context, id string, delta decimal.Decimal) (models.Member, error)
}

type Ledger interface {
	Append(ctx context.Context, e models.Entry) (models.Entry, error)
}

type Engine struct {
	members Members
	ledger  Ledger
	log     *zap.Logger
}

func NewEngine(members Members, ledger Ledger, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{members: members, ledger: ledger, log: log}
}

type Request struct {
	Actor  string
	Target string
	Type   models.ActionType
	Amount decimal.Decimal
	Note   string
}

type Result struct {
	Member models.Member `json:"member"`
	Entry  models.Entry  `json:"entry"`
}

// Settle applies the request. Profit-affecting types change the member first and append
// the ledger entry only once that change is persisted; if the append then fails the
// profit change is reverted, so a failure never leaves a ledger entry without its
// member change. manual_note only appends an entry, with the amount forced to zero.
func (e *Engine) Settle(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	member, err := e.members.Get(ctx, req.Target)
	if err != nil {
		return Result{}, err
	}

	amount := req.Amount
	if !req.Type.AffectsProfit() {
		amount = decimal.Zero
	} else {
		member, err = e.members.AdjustProfit(ctx, req.Target, amount)
		if err != nil {
			return Result{}, err
		}
	}

	entry, err := e.ledger.Append(ctx, models.Entry{
		Actor:  req.Actor,
		Target: req.Target,
		Type:   req.Type,
		Amount: amount,
		Note:   req.Note,
	})
	if err != nil {
		if req.Type.AffectsProfit() {
			if _, rerr := e.members.AdjustProfit(ctx, req.Target, amount.Neg()); rerr != nil {
				e.log.Error("profit change left without ledger entry",
					zap.String("target", req.Target),
					zap.String("amount", amount.String()),
					zap.Error(rerr),
				)
			}
		}
		return Result{}, fmt.Errorf("failed to record settlement: %w", err)
	}

	monitoring.SettledAmountTotal.WithLabelValues(string(req.Type)).Add(amount.Abs().InexactFloat64())
	e.log.Info("settled",
		zap.String("actor", req.Actor),
		zap.String("target", req.Target),
		zap.String("type", string(req.Type)),
		zap.String("amount", amount.String()),
		zap.String("profit", member.Profit.String()),
	)
	return Result{Member: member, Entry: entry}, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.Target) == "" {
		return apperr.Validation("target", "must not be empty")
	}
	if !req.Type.Settleable() {
		return apperr.Validation("type", "%q cannot be settled", req.Type)
	}
	if req.Type.AffectsProfit() && req.Amount.IsNegative() && req.Type != models.ActionProfitAdjust {
		return apperr.Validation("amount", "only profit_adjust may be negative")
	}
	return nil
}
