package member

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-ledger/internal/apperr"
	"referral-ledger/internal/credential"
	"referral-ledger/internal/models"
	"referral-ledger/internal/storage"
)

type failingStore struct {
	Store
	failSave bool
}

func (s *failingStore) SaveMembers(ctx context.Context, members []models.Member) error {
	if s.failSave {
		return errors.New("disk full")
	}
	return s.Store.SaveMembers(ctx, members)
}

func newTestRepo(t *testing.T) (*Repository, *storage.FileStore) {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewFileStore(filepath.Join(dir, "members.csv"), filepath.Join(dir, "ledger.csv"))
	repo := NewRepository(store, credential.NewHasher(credential.MinIterations), Options{
		BootstrapID:       "admin",
		BootstrapPassword: "admin123",
	})
	return repo, store
}

// seedTable persists members as-is, bypassing validation, the way an out-of-band edit would.
func seedTable(t *testing.T, store *storage.FileStore, members ...models.Member) {
	t.Helper()
	require.NoError(t, store.SaveMembers(context.Background(), members))
}

func row(id, referrer string, role models.Role) models.Member {
	return models.Member{ID: id, Password: "1234", Referrer: referrer, Placement: models.PlacementNone, Profit: decimal.Zero, Role: role}
}

func committed(r *Repository) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestLoadSeedsMissingTable(t *testing.T) {
	repo, store := newTestRepo(t)

	members, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, members, 2)

	admin := members[0]
	assert.Equal(t, "admin", admin.ID)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.True(t, credential.IsDigest(admin.Password))
	assert.Equal(t, 1, admin.DirectReferrals)
	assert.Equal(t, "admin", members[1].Referrer)

	_, err = os.Stat(store.MembersPath)
	assert.NoError(t, err)
}

func TestSeededTableIsPersistedWithCounts(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Load(ctx)
	require.NoError(t, err)

	persisted, err := store.LoadMembers(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, "admin", persisted[0].ID)
	assert.Equal(t, 1, persisted[0].DirectReferrals)
	assert.Equal(t, 0, persisted[1].DirectReferrals)

	changed, err := repo.RecalcReferrals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

func TestSaveLoadIsIdempotent(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	seedTable(t, store,
		row("admin", models.NoReferrer, models.RoleAdmin),
		row("alice", "admin", models.RoleUser),
	)

	members, err := repo.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, members))
	first := readFile(t, store.MembersPath)

	for i := 0; i < 3; i++ {
		members, err = repo.Load(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, members))
		assert.Equal(t, first, readFile(t, store.MembersPath))
	}
}

func TestCreate(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	m, err := repo.Create(ctx, NewMember{ID: "alice", Password: "pass", Name: "Alice", Referrer: "admin", Placement: "right"})
	require.NoError(t, err)

	assert.Equal(t, models.RoleUser, m.Role)
	assert.Equal(t, models.PlacementRight, m.Placement)
	assert.True(t, m.Profit.IsZero())
	assert.Equal(t, 0, m.WeakLeg)
	assert.True(t, credential.IsDigest(m.Password))

	admin, err := repo.Get(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, admin.DirectReferrals)
}

func TestCreateRejectsDuplicateWithoutChange(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, NewMember{ID: "alice", Password: "pass", Referrer: "admin"})
	require.NoError(t, err)
	before := readFile(t, store.MembersPath)
	version := committed(repo)

	_, err = repo.Create(ctx, NewMember{ID: "alice", Password: "other", Referrer: "-"})

	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, before, readFile(t, store.MembersPath))
	assert.Equal(t, version, committed(repo))
}

func TestCreateValidation(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    NewMember
		field string
	}{
		{"short id", NewMember{ID: "bob", Password: "pass"}, "id"},
		{"bad characters", NewMember{ID: "bob-smith", Password: "pass"}, "id"},
		{"long id", NewMember{ID: "abcdefghijklmnopqrstu", Password: "pass"}, "id"},
		{"short password", NewMember{ID: "bobby", Password: "abc"}, "password"},
		{"self referral", NewMember{ID: "bobby", Password: "pass", Referrer: "bobby"}, "referrer"},
		{"unknown referrer", NewMember{ID: "bobby", Password: "pass", Referrer: "ghost"}, "referrer"},
		{"bad placement", NewMember{ID: "bobby", Password: "pass", Placement: "up"}, "placement"},
		{"bad role", NewMember{ID: "bobby", Password: "pass", Role: "root"}, "role"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Create(ctx, tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
			assert.Equal(t, tc.field, apperr.FieldOf(err))
		})
	}

	members, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestUpdateIsAllOrNothing(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	seedTable(t, store,
		row("admin", models.NoReferrer, models.RoleAdmin),
		row("alice", "admin", models.RoleUser),
		row("carol", "alice", models.RoleUser),
	)
	_, err := repo.Load(ctx)
	require.NoError(t, err)
	before := readFile(t, store.MembersPath)

	name := "Alice Renamed"
	ghost := "ghost"
	_, err = repo.Update(ctx, []Edit{
		{ID: "alice", Patch: Patch{Name: &name}},
		{ID: "carol", Patch: Patch{Referrer: &ghost}},
	})

	assert.True(t, errors.Is(err, apperr.ErrConflict))
	alice, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "", alice.Name)
	assert.Equal(t, before, readFile(t, store.MembersPath))
}

func TestUpdateAppliesWhitelistAndRecalcs(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	seedTable(t, store,
		row("admin", models.NoReferrer, models.RoleAdmin),
		row("alice", "admin", models.RoleUser),
		row("carol", "admin", models.RoleUser),
	)

	alice := "alice"
	weak := 7
	profit := decimal.RequireFromString("99.95")
	left := "left"
	admin := models.RoleAdmin
	members, err := repo.Update(ctx, []Edit{
		{ID: "carol", Patch: Patch{Referrer: &alice, WeakLeg: &weak, Profit: &profit, Placement: &left}},
		{ID: "alice", Patch: Patch{Role: &admin}},
	})
	require.NoError(t, err)

	byID := map[string]models.Member{}
	for _, m := range members {
		byID[m.ID] = m
	}
	assert.Equal(t, 1, byID["admin"].DirectReferrals)
	assert.Equal(t, 1, byID["alice"].DirectReferrals)
	assert.Equal(t, models.RoleAdmin, byID["alice"].Role)
	assert.Equal(t, 7, byID["carol"].WeakLeg)
	assert.Equal(t, models.PlacementLeft, byID["carol"].Placement)
	assert.True(t, byID["carol"].Profit.Equal(profit))
}

func TestUpdateAcceptsSelfReferralForLaterFlagging(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	seedTable(t, store,
		row("admin", models.NoReferrer, models.RoleAdmin),
		row("bobby", "admin", models.RoleUser),
	)

	self := "bobby"
	_, err := repo.Update(ctx, []Edit{{ID: "bobby", Patch: Patch{Referrer: &self}}})
	require.NoError(t, err)

	report, err := repo.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bobby"}, report.Self)
}

func TestUpdateRejections(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	user := models.RoleUser
	_, err := repo.Update(ctx, []Edit{{ID: "admin", Patch: Patch{Role: &user}}})
	assert.True(t, errors.Is(err, apperr.ErrPermission))

	neg := -1
	_, err = repo.Update(ctx, []Edit{{ID: "user01", Patch: Patch{WeakLeg: &neg}}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = repo.Update(ctx, []Edit{{ID: "nobody", Patch: Patch{}}})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDelete(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	seedTable(t, store,
		row("admin", models.NoReferrer, models.RoleAdmin),
		row("alice", "admin", models.RoleUser),
		row("carol", "alice", models.RoleUser),
	)

	_, err := repo.Delete(ctx, "admin")
	assert.True(t, errors.Is(err, apperr.ErrPermission))

	_, err = repo.Delete(ctx, "nobody")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	removed, err := repo.Delete(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", removed.ID)

	admin, err := repo.Get(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 0, admin.DirectReferrals)

	report, err := repo.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, report.Dangling)

	repaired, err := repo.RepairReferrers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, repaired)

	carol, err := repo.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.NoReferrer, carol.Referrer)

	repaired, err = repo.RepairReferrers(ctx)
	require.NoError(t, err)
	assert.Empty(t, repaired)
}

func TestResetPassword(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, NewMember{ID: "second", Password: "pass", Role: models.RoleAdmin})
	require.NoError(t, err)

	err = repo.ResetPassword(ctx, "second", "admin", "newpass")
	assert.True(t, errors.Is(err, apperr.ErrPermission))

	require.NoError(t, repo.ResetPassword(ctx, "admin", "admin", "newpass"))
	_, err = repo.Authenticate(ctx, "admin", "newpass")
	assert.NoError(t, err)

	require.NoError(t, repo.ResetPassword(ctx, "second", "user01", "fresh"))
	_, err = repo.Authenticate(ctx, "user01", "fresh")
	assert.NoError(t, err)

	assert.True(t, errors.Is(repo.ResetPassword(ctx, "admin", "user01", "abc"), apperr.ErrValidation))
	assert.True(t, errors.Is(repo.ResetPassword(ctx, "admin", "nobody", "abcd"), apperr.ErrNotFound))
}

func TestAuthenticateUpgradesLegacyCredential(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	seedTable(t, store,
		row("admin", models.NoReferrer, models.RoleAdmin),
		row("legacy", "admin", models.RoleUser),
	)

	m, err := repo.Authenticate(ctx, "legacy", "1234")
	require.NoError(t, err)
	assert.Equal(t, "legacy", m.ID)

	persisted, err := store.LoadMembers(ctx)
	require.NoError(t, err)
	upgraded := persisted[1].Password
	assert.NotEqual(t, "1234", upgraded)
	assert.True(t, credential.IsDigest(upgraded))

	ok, needsUpgrade := credential.NewHasher(credential.MinIterations).Verify("1234", upgraded)
	assert.True(t, ok)
	assert.False(t, needsUpgrade)

	_, err = repo.Authenticate(ctx, "legacy", "1234")
	assert.NoError(t, err)
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, wrongPassword := repo.Authenticate(ctx, "admin", "nope")
	_, unknownMember := repo.Authenticate(ctx, "ghost", "nope")

	assert.True(t, errors.Is(wrongPassword, apperr.ErrAuth))
	assert.True(t, errors.Is(unknownMember, apperr.ErrAuth))
	assert.Equal(t, wrongPassword.Error(), unknownMember.Error())
}

func TestAdjustProfit(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	u1 := row("u1", "admin", models.RoleUser)
	u1.Profit = decimal.RequireFromString("1500.50")
	seedTable(t, store, row("admin", models.NoReferrer, models.RoleAdmin), u1)

	m, err := repo.AdjustProfit(ctx, "u1", decimal.RequireFromString("120.0"))
	require.NoError(t, err)
	assert.True(t, m.Profit.Equal(decimal.RequireFromString("1620.50")), m.Profit.String())

	_, err = repo.AdjustProfit(ctx, "ghost", decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRecalcReferralsReportsStaleCounts(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	admin := row("admin", models.NoReferrer, models.RoleAdmin)
	admin.DirectReferrals = 5
	seedTable(t, store, admin, row("alice", "admin", models.RoleUser))

	changed, err := repo.RecalcReferrals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	changed, err = repo.RecalcReferrals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)
}

func TestFailedPersistLeavesStateUntouched(t *testing.T) {
	dir := t.TempDir()
	fs := storage.NewFileStore(filepath.Join(dir, "members.csv"), filepath.Join(dir, "ledger.csv"))
	store := &failingStore{Store: fs}
	repo := NewRepository(store, credential.NewHasher(credential.MinIterations), Options{BootstrapPassword: "admin123"})
	ctx := context.Background()
	_, err := repo.Load(ctx)
	require.NoError(t, err)

	store.failSave = true
	_, err = repo.Create(ctx, NewMember{ID: "alice", Password: "pass"})
	require.Error(t, err)

	members, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestReloadSeesOtherWriters(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewFileStore(filepath.Join(dir, "members.csv"), filepath.Join(dir, "ledger.csv"))
	hasher := credential.NewHasher(credential.MinIterations)
	a := NewRepository(store, hasher, Options{BootstrapPassword: "admin123", Reload: true})
	b := NewRepository(store, hasher, Options{BootstrapPassword: "admin123", Reload: true})
	ctx := context.Background()

	_, err := a.Create(ctx, NewMember{ID: "alice", Password: "pass", Referrer: "admin"})
	require.NoError(t, err)

	m, err := b.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "admin", m.Referrer)
}

func TestSearchAndExport(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()
	alice := row("alice", "admin", models.RoleUser)
	alice.Email = "Alice@Example.com"
	seedTable(t, store, row("admin", models.NoReferrer, models.RoleAdmin), alice)

	found, err := repo.Search(ctx, "example")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[0].ID)

	all, err := repo.Search(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Save(ctx, all))
	var buf bytes.Buffer
	require.NoError(t, repo.Export(ctx, &buf))
	assert.Equal(t, readFile(t, store.MembersPath), buf.String())
}
