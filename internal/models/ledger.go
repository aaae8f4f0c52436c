package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotApplicable is the ledger target of repository-wide actions.
const NotApplicable = "-"

// TimestampLayout is the second-granularity layout used by the persisted ledger.
const TimestampLayout = "2006-01-02 15:04:05"

type ActionType string

const (
	ActionCommissionAdd         ActionType = "commission_add"
	ActionProfitAdjust          ActionType = "profit_adjust"
	ActionBonusAdd              ActionType = "bonus_add"
	ActionManualNote            ActionType = "manual_note"
	ActionCreateUser            ActionType = "create_user"
	ActionDeleteUser            ActionType = "delete_user"
	ActionResetPassword         ActionType = "reset_password"
	ActionRecalcReferrals       ActionType = "recalc_referrals"
	ActionFixInvalidRecommender ActionType = "fix_invalid_recommender"
	ActionBulkUpdateUsers       ActionType = "bulk_update_users"
)

// ActionTypes lists every ledger action type in a fixed order.
var ActionTypes = []ActionType{
	ActionCommissionAdd,
	ActionProfitAdjust,
	ActionBonusAdd,
	ActionManualNote,
	ActionCreateUser,
	ActionDeleteUser,
	ActionResetPassword,
	ActionRecalcReferrals,
	ActionFixInvalidRecommender,
	ActionBulkUpdateUsers,
}

func (a ActionType) Valid() bool {
	for _, t := range ActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// AffectsProfit reports whether a settlement of this type changes accumulated profit.
func (a ActionType) AffectsProfit() bool {
	switch a {
	case ActionCommissionAdd, ActionProfitAdjust, ActionBonusAdd:
		return true
	}
	return false
}

// Settleable reports whether the type may be posted through the settlement engine.
func (a ActionType) Settleable() bool {
	return a.AffectsProfit() || a == ActionManualNote
}

type Entry struct {
	Seq       uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	Timestamp time.Time       `gorm:"index;not null" json:"timestamp"`
	Actor     string          `gorm:"size:20;not null" json:"actor"`
	Target    string          `gorm:"size:20;index" json:"target"`
	Type      ActionType      `gorm:"size:32;index;not null" json:"type"`
	Amount    decimal.Decimal `gorm:"type:text;not null" json:"amount"`
	Note      string          `gorm:"type:text" json:"note"`
}
