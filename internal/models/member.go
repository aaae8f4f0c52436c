package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// NoReferrer marks a member that was not introduced by anyone.
const NoReferrer = "-"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type Placement string

const (
	PlacementNone  Placement = "-"
	PlacementLeft  Placement = "left"
	PlacementRight Placement = "right"
)

// ParsePlacement accepts left/right in any case and treats empty or "none" as PlacementNone.
// Only the first word is considered, so labels like "Left (L)" parse as left.
func ParsePlacement(s string) (Placement, bool) {
	word := ""
	if fields := strings.Fields(s); len(fields) > 0 {
		word = strings.ToLower(fields[0])
	}
	switch word {
	case "", "-", "none":
		return PlacementNone, true
	case "left":
		return PlacementLeft, true
	case "right":
		return PlacementRight, true
	}
	return "", false
}

type Member struct {
	ID              string          `gorm:"primaryKey;size:20"`
	Password        string          `gorm:"size:255"`
	Name            string          `gorm:"size:255"`
	Email           string          `gorm:"size:255"`
	Phone           string          `gorm:"size:64"`
	Referrer        string          `gorm:"size:20;index;default:'-'"`
	Placement       Placement       `gorm:"size:8;default:'-'"`
	DirectReferrals int             `gorm:"default:0"`
	WeakLeg         int             `gorm:"default:0"`
	Profit          decimal.Decimal `gorm:"type:text;default:'0'"`
	Role            Role            `gorm:"size:16;default:'user'"`
}

func (m Member) IsAdmin() bool {
	return m.Role == RoleAdmin
}

func (m Member) HasReferrer() bool {
	return m.Referrer != NoReferrer
}

// View is a member without its credential, safe to hand to the presentation layer.
type View struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
	Referrer        string          `json:"referrer"`
	Placement       Placement       `json:"placement"`
	DirectReferrals int             `json:"direct_referrals"`
	WeakLeg         int             `json:"weak_leg"`
	Profit          decimal.Decimal `json:"profit"`
	Role            Role            `json:"role"`
}

func (m Member) View() View {
	return View{
		ID:              m.ID,
		Name:            m.Name,
		Email:           m.Email,
		Phone:           m.Phone,
		Referrer:        m.Referrer,
		Placement:       m.Placement,
		DirectReferrals: m.DirectReferrals,
		WeakLeg:         m.WeakLeg,
		Profit:          m.Profit,
		Role:            m.Role,
	}
}
