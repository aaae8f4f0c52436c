package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"referral-ledger/internal/apperr"
	"referral-ledger/internal/auth"
	"referral-ledger/internal/member"
	"referral-ledger/internal/models"
	"referral-ledger/internal/referral"
)

// downlineDepth matches the two-level referral tree shown to members.
const downlineDepth = 2

type Accounts struct {
	members *member.Repository
	tokens  *auth.TokenIssuer
	log     *zap.Logger
}

func NewAccounts(members *member.Repository, tokens *auth.TokenIssuer, log *zap.Logger) *Accounts {
	if log == nil {
		log = zap.NewNop()
	}
	return &Accounts{members: members, tokens: tokens, log: log}
}

type SignupRequest struct {
	ID        string `json:"id"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Referrer  string `json:"referrer"`
	Placement string `json:"placement"`
}

// Signup creates a user-role member. Unlike admin creation, a referrer and a left or
// right placement are mandatory.
func (a *Accounts) Signup(ctx context.Context, req SignupRequest) (models.Member, error) {
	if strings.TrimSpace(req.Referrer) == "" || strings.TrimSpace(req.Referrer) == models.NoReferrer {
		return models.Member{}, apperr.Validation("referrer", "is required")
	}
	if p, ok := models.ParsePlacement(req.Placement); !ok || p == models.PlacementNone {
		return models.Member{}, apperr.Validation("placement", "must be left or right")
	}
	return a.members.Create(ctx, member.NewMember{
		ID:        req.ID,
		Password:  req.Password,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Referrer:  req.Referrer,
		Placement: req.Placement,
		Role:      models.RoleUser,
	})
}

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Member    models.View `json:"member"`
}

func (a *Accounts) Login(ctx context.Context, id, password string) (Session, error) {
	m, err := a.members.Authenticate(ctx, strings.TrimSpace(id), password)
	if err != nil {
		a.log.Info("login rejected", zap.String("id", id))
		return Session{}, err
	}
	token, expires, err := a.tokens.Issue(m)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, Member: m.View()}, nil
}

// Identify resolves a session token to the member it was issued for.
func (a *Accounts) Identify(ctx context.Context, token string) (models.Member, error) {
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return models.Member{}, apperr.Auth()
	}
	m, err := a.members.Get(ctx, claims.MemberID)
	if err != nil {
		return models.Member{}, apperr.Auth()
	}
	return m, nil
}

type Profile struct {
	Member   models.View     `json:"member"`
	Downline []referral.Node `json:"downline"`
}

func (a *Accounts) Profile(ctx context.Context, id string) (Profile, error) {
	members, err := a.members.List(ctx)
	if err != nil {
		return Profile{}, err
	}
	for _, m := range members {
		if m.ID == id {
			return Profile{
				Member:   m.View(),
				Downline: referral.Downline(members, id, downlineDepth),
			}, nil
		}
	}
	return Profile{}, apperr.NotFound("member %q does not exist", id)
}
