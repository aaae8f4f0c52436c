package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-ledger/internal/apperr"
	"referral-ledger/internal/ledger"
	"referral-ledger/internal/member"
	"referral-ledger/internal/models"
	"referral-ledger/internal/referral"
	"referral-ledger/internal/report"
	"referral-ledger/internal/settlement"
)

// Console is the admin surface. Every call re-checks that the actor is an admin in the
// member table, and every mutation is followed by exactly one ledger entry.
type Console struct {
	members *member.Repository
	ledger  *ledger.Ledger
	engine  *settlement.Engine
	log     *zap.Logger
}

func NewConsole(members *member.Repository, l *ledger.Ledger, engine *settlement.Engine, log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{members: members, ledger: l, engine: engine, log: log}
}

func (c *Console) requireAdmin(ctx context.Context, actor string) error {
	m, err := c.members.Get(ctx, actor)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Permission("admin access required")
	}
	if err != nil {
		return err
	}
	if !m.IsAdmin() {
		return apperr.Permission("admin access required")
	}
	return nil
}

// record appends the audit entry for a mutation that has already been persisted.
// A failure here cannot undo the mutation, so it is logged rather than returned.
func (c *Console) record(ctx context.Context, actor, target string, typ models.ActionType, note string) {
	_, err := c.ledger.Append(ctx, models.Entry{
		Actor:  actor,
		Target: target,
		Type:   typ,
		Amount: decimal.Zero,
		Note:   note,
	})
	if err != nil {
		c.log.Error("audit entry lost",
			zap.String("actor", actor),
			zap.String("target", target),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

func (c *Console) Members(ctx context.Context, actor, query string) ([]models.Member, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return c.members.Search(ctx, query)
}

func (c *Console) CreateMember(ctx context.Context, actor string, n member.NewMember) (models.Member, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return models.Member{}, err
	}
	m, err := c.members.Create(ctx, n)
	if err != nil {
		return models.Member{}, err
	}
	c.record(ctx, actor, m.ID, models.ActionCreateUser, fmt.Sprintf("role=%s referrer=%s", m.Role, m.Referrer))
	return m, nil
}

func (c *Console) UpdateMembers(ctx context.Context, actor string, edits []member.Edit) ([]models.Member, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	if len(edits) == 0 {
		return nil, apperr.Validation("edits", "must not be empty")
	}
	members, err := c.members.Update(ctx, edits)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(edits))
	for i, e := range edits {
		ids[i] = e.ID
	}
	c.record(ctx, actor, models.NotApplicable, models.ActionBulkUpdateUsers, "updated: "+strings.Join(ids, ","))
	return members, nil
}

func (c *Console) DeleteMember(ctx context.Context, actor, id string) error {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return err
	}
	removed, err := c.members.Delete(ctx, id)
	if err != nil {
		return err
	}
	note := ""
	if removed.DirectReferrals > 0 {
		note = fmt.Sprintf("%d referred members left with a dangling referrer", removed.DirectReferrals)
	}
	c.record(ctx, actor, id, models.ActionDeleteUser, note)
	return nil
}

func (c *Console) ResetPassword(ctx context.Context, actor, id, newPassword string) error {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return err
	}
	if err := c.members.ResetPassword(ctx, actor, id, newPassword); err != nil {
		return err
	}
	c.record(ctx, actor, id, models.ActionResetPassword, "")
	return nil
}

func (c *Console) RecalcReferrals(ctx context.Context, actor string) (int, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return 0, err
	}
	changed, err := c.members.RecalcReferrals(ctx)
	if err != nil {
		return 0, err
	}
	c.record(ctx, actor, models.NotApplicable, models.ActionRecalcReferrals, fmt.Sprintf("changed=%d", changed))
	return changed, nil
}

func (c *Console) RepairReferrers(ctx context.Context, actor string) ([]string, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	repaired, err := c.members.RepairReferrers(ctx)
	if err != nil {
		return nil, err
	}
	note := "nothing to repair"
	if len(repaired) > 0 {
		note = "reset: " + strings.Join(repaired, ",")
	}
	c.record(ctx, actor, models.NotApplicable, models.ActionFixInvalidRecommender, note)
	return repaired, nil
}

func (c *Console) Settle(ctx context.Context, actor string, req settlement.Request) (settlement.Result, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return settlement.Result{}, err
	}
	req.Actor = actor
	return c.engine.Settle(ctx, req)
}

func (c *Console) Integrity(ctx context.Context, actor string) (referral.Report, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return referral.Report{}, err
	}
	return c.members.Inspect(ctx)
}

func (c *Console) Ledger(ctx context.Context, actor string, f ledger.Filter) ([]models.Entry, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return c.ledger.Query(ctx, f)
}

func (c *Console) Summary(ctx context.Context, actor string) (map[models.ActionType]decimal.Decimal, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return c.ledger.SummarizeByType(ctx)
}

func (c *Console) Report(ctx context.Context, actor string) (report.Overview, error) {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return report.Overview{}, err
	}
	members, err := c.members.List(ctx)
	if err != nil {
		return report.Overview{}, err
	}
	return report.Build(members), nil
}

func (c *Console) ExportMembers(ctx context.Context, actor string, w io.Writer) error {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return err
	}
	return c.members.Export(ctx, w)
}

func (c *Console) ExportLedger(ctx context.Context, actor string, w io.Writer) error {
	if err := c.requireAdmin(ctx, actor); err != nil {
		return err
	}
	return c.ledger.Export(ctx, w)
}
