package storage

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-ledger/internal/models"
)

func sampleMembers() []models.Member {
	return []models.Member{
		{ID: "admin", Password: "pbkdf2_sha256$120000$c2FsdA$a2V5", Name: "Admin", Email: "admin@test.com",
			Referrer: models.NoReferrer, Placement: models.PlacementNone, DirectReferrals: 1,
			Profit: decimal.Zero, Role: models.RoleAdmin},
		{ID: "u1", Password: "1234", Name: "Kim, \"Jr\"", Phone: "010-1234",
			Referrer: "admin", Placement: models.PlacementLeft, WeakLeg: 3,
			Profit: decimal.RequireFromString("1500.50"), Role: models.RoleUser},
	}
}

func TestMembersRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMembers(&buf, sampleMembers()))

	got, err := ReadMembers(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	want := sampleMembers()
	for i := range want {
		assert.True(t, want[i].Profit.Equal(got[i].Profit))
		got[i].Profit = want[i].Profit
	}
	assert.Equal(t, want, got)
}

func TestMembersSaveIsIdempotent(t *testing.T) {
	var first bytes.Buffer
	require.NoError(t, WriteMembers(&first, sampleMembers()))

	loaded, err := ReadMembers(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)
	var second bytes.Buffer
	require.NoError(t, WriteMembers(&second, loaded))

	assert.Equal(t, first.String(), second.String())
}

func TestReadMembersFillsMissingColumns(t *testing.T) {
	in := "id,name,direct_referrals,profit\n" +
		"bob,Bob,abc,12.5\n" +
		"carol,Carol,,not-a-number\n"

	got, err := ReadMembers(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.NoReferrer, got[0].Referrer)
	assert.Equal(t, models.PlacementNone, got[0].Placement)
	assert.Equal(t, models.RoleUser, got[0].Role)
	assert.Equal(t, 0, got[0].DirectReferrals)
	assert.True(t, got[0].Profit.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got[1].Profit.IsZero())
	assert.Equal(t, "", got[1].Email)

	var out bytes.Buffer
	require.NoError(t, WriteMembers(&out, got))
	header := strings.SplitN(out.String(), "\n", 2)[0]
	assert.Equal(t, strings.Join(MemberColumns, ","), header)
}

func TestReadMembersLegacyHeaders(t *testing.T) {
	in := "ID,이름,이메일,추천인,위치,직추천,소실적,수익($)\n" +
		"admin,관리자,admin@test.com,-,-,0,0,0.0\n" +
		"kim,김,kim@test.com,admin,Left (좌),1.0,2,10.25\n"

	got, err := ReadMembers(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "kim", got[1].ID)
	assert.Equal(t, "admin", got[1].Referrer)
	assert.Equal(t, models.PlacementLeft, got[1].Placement)
	assert.Equal(t, 1, got[1].DirectReferrals)
	assert.Equal(t, 2, got[1].WeakLeg)
}

func TestReadEmptyTable(t *testing.T) {
	got, err := ReadMembers(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEntriesRoundTripEscapesNotes(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	entries := []models.Entry{
		{Timestamp: ts, Actor: "admin", Target: "u1", Type: models.ActionCommissionAdd,
			Amount: decimal.RequireFromString("120"), Note: "weekly, \"bonus\"\nsecond line"},
		{Timestamp: ts, Actor: "admin", Target: models.NotApplicable, Type: models.ActionRecalcReferrals,
			Amount: decimal.Zero, Note: ""},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEntries(&buf, entries))
	assert.True(t, strings.HasPrefix(buf.String(), "timestamp,actor,target,type,amount,note\n2026-03-01 09:30:15,admin,u1,"))

	got, err := ReadEntries(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint(1), got[0].Seq)
	assert.Equal(t, uint(2), got[1].Seq)
	assert.Equal(t, entries[0].Note, got[0].Note)
	assert.True(t, ts.Equal(got[0].Timestamp))
	assert.Equal(t, models.NotApplicable, got[1].Target)
}

func TestReadEntriesCoercesMalformedValues(t *testing.T) {
	in := "timestamp,actor,target,type,amount,note\n" +
		"yesterday,admin,u1,commission_add,lots,x\n"

	got, err := ReadEntries(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.IsZero())
	assert.True(t, got[0].Amount.IsZero())
}
