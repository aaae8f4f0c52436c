package referral

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-ledger/internal/models"
)

func member(id, referrer string) models.Member {
	return models.Member{ID: id, Referrer: referrer, Role: models.RoleUser}
}

func TestRecalcDirectReferrals(t *testing.T) {
	in := []models.Member{
		member("admin", models.NoReferrer),
		member("alice", "admin"),
		member("bob", "admin"),
		member("carol", "alice"),
		member("dave", "ghost"),
	}
	in[0].DirectReferrals = 99

	out := RecalcDirectReferrals(in)

	assert.Equal(t, 2, out[0].DirectReferrals)
	assert.Equal(t, 1, out[1].DirectReferrals)
	assert.Equal(t, 0, out[2].DirectReferrals)
	assert.Equal(t, 99, in[0].DirectReferrals, "input must not be mutated")
}

func TestRecalcMatchesDefinitionOnRandomTables(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := rng.Intn(30) + 1
		members := make([]models.Member, n)
		for i := range members {
			ref := models.NoReferrer
			if r := rng.Intn(n + 3); r < n+2 {
				ref = "m" + strconv.Itoa(r)
			}
			members[i] = member("m"+strconv.Itoa(i), ref)
		}

		out := RecalcDirectReferrals(members)

		for _, m := range out {
			want := 0
			for _, x := range out {
				if x.Referrer == m.ID {
					want++
				}
			}
			require.Equal(t, want, m.DirectReferrals, "member %s", m.ID)
		}
	}
}

func TestDefectDetection(t *testing.T) {
	in := []models.Member{
		member("admin", models.NoReferrer),
		member("bob", "bob"),
		member("carol", "ghost"),
		member("dave", "zed"),
		member("dave", "admin"),
	}

	r := Inspect(in)

	assert.Equal(t, []string{"carol", "dave"}, r.Dangling)
	assert.Equal(t, []string{"bob"}, r.Self)
	assert.Equal(t, []string{"dave"}, r.Duplicates)
	assert.Equal(t, 4, r.Total())
	assert.False(t, r.Clean())
}

func TestRepairDanglingReferrersIsIdempotent(t *testing.T) {
	in := []models.Member{
		member("admin", models.NoReferrer),
		member("alice", "admin"),
		member("bob", "bob"),
		member("carol", "deleted"),
	}

	once := RepairDanglingReferrers(in)
	twice := RepairDanglingReferrers(once)

	assert.Equal(t, once, twice)
	assert.Empty(t, FindDanglingReferrers(once))
	assert.Equal(t, models.NoReferrer, once[3].Referrer)
	assert.Equal(t, "bob", once[2].Referrer, "self referral is flagged, not repaired")
	assert.Equal(t, []string{"bob"}, FindSelfReferrers(once))
	assert.Equal(t, "deleted", in[3].Referrer)
}

func TestDownlineTwoLevels(t *testing.T) {
	in := []models.Member{
		member("admin", models.NoReferrer),
		member("alice", "admin"),
		member("bob", "alice"),
		member("carol", "bob"),
		member("self", "self"),
	}

	tree := Downline(in, "admin", 2)

	require.Len(t, tree, 1)
	assert.Equal(t, "alice", tree[0].Member.ID)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "bob", tree[0].Children[0].Member.ID)
	assert.Empty(t, tree[0].Children[0].Children)

	assert.Empty(t, Downline(in, "self", 5))
}
