// Package member owns the member table: validation, referral-count upkeep, credentials
// and persistence. Every mutation runs as lock, read, modify a copy, recompute referral
// counts, persist, then swap, so readers never see a table whose counts disagree with its
// referrer edges and a rejected operation leaves the persisted table untouched.
package member

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-ledger/internal/apperr"
	"referral-ledger/internal/credential"
	"referral-ledger/internal/lock"
	"referral-ledger/internal/models"
	"referral-ledger/internal/referral"
	"referral-ledger/internal/storage"
)

const (
	MinPasswordLen = 4
	lockKey        = "members"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_]{4,20}$`)

type Store interface {
	LoadMembers(ctx context.Context) ([]models.Member, error)
	SaveMembers(ctx context.Context, members []models.Member) error
}

type Options struct {
	BootstrapID       string
	BootstrapPassword string
	Locker            lock.Locker
	// Reload makes every operation re-read the store, for stores shared between processes.
	Reload bool
	Logger *zap.Logger
}

type Repository struct {
	store  Store
	hasher *credential.Hasher
	locker lock.Locker
	log    *zap.Logger

	bootstrapID       string
	bootstrapPassword string
	reload            bool

	mu      sync.RWMutex
	loaded  bool
	members []models.Member
	version uint64
}

func NewRepository(store Store, hasher *credential.Hasher, opts Options) *Repository {
	if opts.BootstrapID == "" {
		opts.BootstrapID = "admin"
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Repository{
		store:             store,
		hasher:            hasher,
		locker:            opts.Locker,
		log:               opts.Logger,
		bootstrapID:       opts.BootstrapID,
		bootstrapPassword: opts.BootstrapPassword,
		reload:            opts.Reload,
	}
}

func (r *Repository) BootstrapID() string {
	return r.bootstrapID
}

// Load reads the persisted table. A missing or empty table is replaced by a freshly seeded
// one holding the bootstrap admin and a sample user.
func (r *Repository) Load(ctx context.Context) ([]models.Member, error) {
	release, err := r.locker.Acquire(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.loadLocked(ctx)
}

// Save normalizes referral counts and persists members as the whole table.
func (r *Repository) Save(ctx context.Context, members []models.Member) error {
	_, err := r.mutate(ctx, func([]models.Member) ([]models.Member, error) {
		return clone(members), nil
	})
	return err
}

func (r *Repository) List(ctx context.Context) ([]models.Member, error) {
	return r.snapshot(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (models.Member, error) {
	members, err := r.snapshot(ctx)
	if err != nil {
		return models.Member{}, err
	}
	if i := indexOf(members, id); i >= 0 {
		return members[i], nil
	}
	return models.Member{}, apperr.NotFound("member %q does not exist", id)
}

// Search returns members whose id, name, email or phone contains query, ignoring case.
func (r *Repository) Search(ctx context.Context, query string) ([]models.Member, error) {
	members, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return members, nil
	}
	var out []models.Member
	for _, m := range members {
		for _, field := range []string{m.ID, m.Name, m.Email, m.Phone} {
			if strings.Contains(strings.ToLower(field), query) {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

type NewMember struct {
	ID        string
	Password  string
	Name      string
	Email     string
	Phone     string
	Referrer  string
	Placement string
	Role      models.Role
}

// Validate checks the rules that do not depend on the table.
func (n NewMember) Validate() error {
	if !idPattern.MatchString(n.ID) {
		return apperr.Validation("id", "must be 4-20 letters, digits or underscores")
	}
	if len(n.Password) < MinPasswordLen {
		return apperr.Validation("password", "must be at least %d characters", MinPasswordLen)
	}
	if n.Referrer == n.ID {
		return apperr.Validation("referrer", "a member cannot refer themselves")
	}
	if _, ok := models.ParsePlacement(n.Placement); !ok {
		return apperr.Validation("placement", "must be left, right or none")
	}
	if n.Role != "" && !n.Role.Valid() {
		return apperr.Validation("role", "must be user or admin")
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, n NewMember) (models.Member, error) {
	n.ID = strings.TrimSpace(n.ID)
	n.Referrer = strings.TrimSpace(n.Referrer)
	if n.Referrer == "" {
		n.Referrer = models.NoReferrer
	}
	if n.Role == "" {
		n.Role = models.RoleUser
	}
	if err := n.Validate(); err != nil {
		return models.Member{}, err
	}
	placement, _ := models.ParsePlacement(n.Placement)

	digest, err := r.hasher.Hash(n.Password, nil)
	if err != nil {
		return models.Member{}, err
	}

	created := models.Member{
		ID:        n.ID,
		Password:  digest,
		Name:      n.Name,
		Email:     n.Email,
		Phone:     n.Phone,
		Referrer:  n.Referrer,
		Placement: placement,
		Profit:    decimal.Zero,
		Role:      n.Role,
	}

	_, err = r.mutate(ctx, func(members []models.Member) ([]models.Member, error) {
		if indexOf(members, created.ID) >= 0 {
			return nil, apperr.Conflict("member %q already exists", created.ID)
		}
		if created.HasReferrer() && indexOf(members, created.Referrer) < 0 {
			return nil, apperr.Validation("referrer", "member %q does not exist", created.Referrer)
		}
		return append(members, created), nil
	})
	if err != nil {
		return models.Member{}, err
	}

	r.log.Info("member created", zap.String("id", created.ID), zap.String("referrer", created.Referrer), zap.String("role", string(created.Role)))
	return r.Get(ctx, created.ID)
}

// Patch lists the fields an admin may edit; nil fields are left unchanged.
type Patch struct {
	Name      *string          `json:"name,omitempty"`
	Email     *string          `json:"email,omitempty"`
	Phone     *string          `json:"phone,omitempty"`
	Referrer  *string          `json:"referrer,omitempty"`
	Placement *string          `json:"placement,omitempty"`
	WeakLeg   *int             `json:"weak_leg,omitempty"`
	Profit    *decimal.Decimal `json:"profit,omitempty"`
	Role      *models.Role     `json:"role,omitempty"`
}

type Edit struct {
	ID    string `json:"id"`
	Patch Patch  `json:"patch"`
}

// Update applies a batch of edits all-or-nothing. The batch is rejected with a conflict
// if, once applied, any referrer in the whole table points at a missing member.
// Self-referrals are accepted here and left for the validator to flag.
func (r *Repository) Update(ctx context.Context, edits []Edit) ([]models.Member, error) {
	next, err := r.mutate(ctx, func(members []models.Member) ([]models.Member, error) {
		for _, e := range edits {
			i := indexOf(members, e.ID)
			if i < 0 {
				return nil, apperr.NotFound("member %q does not exist", e.ID)
			}
			if err := r.apply(&members[i], e.Patch); err != nil {
				return nil, err
			}
		}
		if dangling := referral.FindDanglingReferrers(members); len(dangling) > 0 {
			return nil, apperr.Conflict("referrer missing for %s; repair referrers before editing", strings.Join(dangling, ", "))
		}
		return members, nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("members updated", zap.Int("edits", len(edits)))
	return next, nil
}

func (r *Repository) apply(m *models.Member, p Patch) error {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Email != nil {
		m.Email = *p.Email
	}
	if p.Phone != nil {
		m.Phone = *p.Phone
	}
	if p.Referrer != nil {
		ref := strings.TrimSpace(*p.Referrer)
		if ref == "" {
			ref = models.NoReferrer
		}
		m.Referrer = ref
	}
	if p.Placement != nil {
		placement, ok := models.ParsePlacement(*p.Placement)
		if !ok {
			return apperr.Validation("placement", "must be left, right or none")
		}
		m.Placement = placement
	}
	if p.WeakLeg != nil {
		if *p.WeakLeg < 0 {
			return apperr.Validation("weak_leg", "must not be negative")
		}
		m.WeakLeg = *p.WeakLeg
	}
	if p.Profit != nil {
		m.Profit = *p.Profit
	}
	if p.Role != nil {
		if !p.Role.Valid() {
			return apperr.Validation("role", "must be user or admin")
		}
		if m.ID == r.bootstrapID && *p.Role != models.RoleAdmin {
			return apperr.Permission("the bootstrap admin must keep the admin role")
		}
		m.Role = *p.Role
	}
	return nil
}

// Delete removes a member. Members it referred keep their referrer until the referrers
// are repaired; the validator reports them as dangling in the meantime.
func (r *Repository) Delete(ctx context.Context, id string) (models.Member, error) {
	if id == r.bootstrapID {
		return models.Member{}, apperr.Permission("the bootstrap admin cannot be deleted")
	}

	var removed models.Member
	_, err := r.mutate(ctx, func(members []models.Member) ([]models.Member, error) {
		i := indexOf(members, id)
		if i < 0 {
			return nil, apperr.NotFound("member %q does not exist", id)
		}
		removed = members[i]
		return append(members[:i], members[i+1:]...), nil
	})
	if err != nil {
		return models.Member{}, err
	}

	r.log.Info("member deleted", zap.String("id", id))
	return removed, nil
}

// ResetPassword re-hashes id's password. Only the bootstrap admin may reset its own password.
func (r *Repository) ResetPassword(ctx context.Context, actorID, id, newPassword string) error {
	if id == r.bootstrapID && actorID != r.bootstrapID {
		return apperr.Permission("only the bootstrap admin may reset its own password")
	}
	if len(newPassword) < MinPasswordLen {
		return apperr.Validation("password", "must be at least %d characters", MinPasswordLen)
	}
	digest, err := r.hasher.Hash(newPassword, nil)
	if err != nil {
		return err
	}

	_, err = r.mutate(ctx, func(members []models.Member) ([]models.Member, error) {
		i := indexOf(members, id)
		if i < 0 {
			return nil, apperr.NotFound("member %q does not exist", id)
		}
		members[i].Password = digest
		return members, nil
	})
	if err != nil {
		return err
	}

	r.log.Info("password reset", zap.String("id", id), zap.String("actor", actorID))
	return nil
}

// Authenticate verifies a login. Unknown members and wrong passwords return the same
// error. A matching legacy plaintext credential is upgraded to a digest and persisted.
func (r *Repository) Authenticate(ctx context.Context, id, password string) (models.Member, error) {
	members, err := r.snapshot(ctx)
	if err != nil {
		return models.Member{}, err
	}
	i := indexOf(members, id)
	if i < 0 {
		return models.Member{}, apperr.Auth()
	}
	m := members[i]

	ok, needsUpgrade := r.hasher.Verify(password, m.Password)
	if !ok {
		return models.Member{}, apperr.Auth()
	}
	if needsUpgrade {
		if err := r.upgradeCredential(ctx, m.ID, m.Password, password); err != nil {
			r.log.Warn("credential upgrade failed", zap.String("id", m.ID), zap.Error(err))
		} else {
			r.log.Info("legacy credential upgraded", zap.String("id", m.ID))
		}
	}
	return m, nil
}

func (r *Repository) upgradeCredential(ctx context.Context, id, old, password string) error {
	digest, err := r.hasher.Hash(password, nil)
	if err != nil {
		return err
	}
	_, err = r.mutate(ctx, func(members []models.Member) ([]models.Member, error) {
		i := indexOf(members, id)
		if i < 0 || members[i].Password != old {
			return nil, errSkip
		}
		members[i].Password = digest
		return members, nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	return err
}

var errSkip = errors.New("nothing to change")

// AdjustProfit adds delta to the member's accumulated profit and persists the table.
func (r *Repository) AdjustProfit(ctx context.Context, id string, delta decimal.Decimal) (models.Member, error) {
	var updated models.Member
	_, err := r.mutate(ctx, func(members []models.Member) ([]models.Member, error) {
		i := indexOf(members, id)
		if i < 0 {
			return nil, apperr.NotFound("member %q does not exist", id)
		}
		members[i].Profit = members[i].Profit.Add(delta)
		updated = members[i]
		return members, nil
	})
	if err != nil {
		return models.Member{}, err
	}
	return updated, nil
}

// RecalcReferrals recomputes and persists direct-referral counts, returning how many
// members had a different count in the persisted table.
func (r *Repository) RecalcReferrals(ctx context.Context) (int, error) {
	persisted := map[string]int{}
	next, err := r.mutate(ctx, func(members []models.Member) ([]models.Member, error) {
		stored, err := r.store.LoadMembers(ctx)
		if err != nil && !errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("failed to load member table: %w", err)
		}
		for _, m := range stored {
			persisted[m.ID] = m.DirectReferrals
		}
		return members, nil
	})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, m := range next {
		if persisted[m.ID] != m.DirectReferrals {
			changed++
		}
	}
	if changed > 0 {
		r.log.Info("direct referral counts recalculated", zap.Int("changed", changed))
	}
	return changed, nil
}

// RepairReferrers resets dangling referrers to the sentinel and returns the repaired IDs.
func (r *Repository) RepairReferrers(ctx context.Context) ([]string, error) {
	var repaired []string
	_, err := r.mutate(ctx, func(members []models.Member) ([]models.Member, error) {
		repaired = referral.FindDanglingReferrers(members)
		return referral.RepairDanglingReferrers(members), nil
	})
	if err != nil {
		return nil, err
	}
	if len(repaired) > 0 {
		r.log.Info("dangling referrers repaired", zap.Strings("ids", repaired))
	}
	return repaired, nil
}

func (r *Repository) Inspect(ctx context.Context) (referral.Report, error) {
	members, err := r.snapshot(ctx)
	if err != nil {
		return referral.Report{}, err
	}
	return referral.Inspect(members), nil
}

// Export writes the table in its persisted CSV form.
func (r *Repository) Export(ctx context.Context, w io.Writer) error {
	members, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	return storage.WriteMembers(w, members)
}

func (r *Repository) mutate(ctx context.Context, fn func([]models.Member) ([]models.Member, error)) ([]models.Member, error) {
	release, err := r.locker.Acquire(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := r.currentLocked(ctx)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	next = referral.RecalcDirectReferrals(next)

	if err := r.store.SaveMembers(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to persist member table: %w", err)
	}

	r.mu.Lock()
	r.members = next
	r.loaded = true
	r.version++
	r.mu.Unlock()

	return clone(next), nil
}

func (r *Repository) currentLocked(ctx context.Context) ([]models.Member, error) {
	r.mu.RLock()
	loaded := r.loaded
	members := clone(r.members)
	r.mu.RUnlock()

	if r.reload || !loaded {
		return r.loadLocked(ctx)
	}
	return members, nil
}

func (r *Repository) loadLocked(ctx context.Context) ([]models.Member, error) {
	members, err := r.store.LoadMembers(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotExist) {
		return nil, fmt.Errorf("failed to load member table: %w", err)
	}

	if len(members) == 0 {
		members, err = r.seed()
		if err != nil {
			return nil, err
		}
		members = referral.RecalcDirectReferrals(members)
		if err := r.store.SaveMembers(ctx, members); err != nil {
			return nil, fmt.Errorf("failed to persist seeded member table: %w", err)
		}
		r.log.Info("seeded member table", zap.String("bootstrap_admin", r.bootstrapID))
	}

	members = referral.RecalcDirectReferrals(members)

	r.mu.Lock()
	r.members = members
	r.loaded = true
	r.mu.Unlock()

	return clone(members), nil
}

func (r *Repository) seed() ([]models.Member, error) {
	adminDigest, err := r.hasher.Hash(r.bootstrapPassword, nil)
	if err != nil {
		return nil, err
	}
	sampleDigest, err := r.hasher.Hash("1234", nil)
	if err != nil {
		return nil, err
	}
	return []models.Member{
		{
			ID:        r.bootstrapID,
			Password:  adminDigest,
			Name:      "Administrator",
			Email:     "admin@test.com",
			Referrer:  models.NoReferrer,
			Placement: models.PlacementNone,
			Profit:    decimal.Zero,
			Role:      models.RoleAdmin,
		},
		{
			ID:        "user01",
			Password:  sampleDigest,
			Name:      "Sample User",
			Email:     "user01@test.com",
			Referrer:  r.bootstrapID,
			Placement: models.PlacementLeft,
			Profit:    decimal.Zero,
			Role:      models.RoleUser,
		},
	}, nil
}

func (r *Repository) snapshot(ctx context.Context) ([]models.Member, error) {
	r.mu.RLock()
	loaded := r.loaded
	members := clone(r.members)
	r.mu.RUnlock()

	if r.reload || !loaded {
		return r.Load(ctx)
	}
	return members, nil
}

func indexOf(members []models.Member, id string) int {
	for i := range members {
		if members[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(members []models.Member) []models.Member {
	if members == nil {
		return nil
	}
	out := make([]models.Member, len(members))
	copy(out, members)
	return out
}
