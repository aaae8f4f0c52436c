package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"referral-ledger/internal/models"
)

// MemberColumns is the fixed, complete column order of the persisted member table.
var MemberColumns = []string{
	"id", "password", "name", "email", "phone", "referrer",
	"placement", "direct_referrals", "weak_leg", "profit", "role",
}

// EntryColumns is the fixed column order of the persisted ledger.
var EntryColumns = []string{"timestamp", "actor", "target", "type", "amount", "note"}

// Header names written by earlier revisions of the admin tool.
var memberAliases = map[string]string{
	"ID":    "id",
	"PW":    "password",
	"이름":    "name",
	"이메일":   "email",
	"연락처":   "phone",
	"추천인":   "referrer",
	"위치":    "placement",
	"직추천":   "direct_referrals",
	"소실적":   "weak_leg",
	"수익($)": "profit",
	"권한":    "role",
}

func WriteMembers(w io.Writer, members []models.Member) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MemberColumns); err != nil {
		return err
	}
	for _, m := range members {
		record := []string{
			m.ID,
			m.Password,
			m.Name,
			m.Email,
			m.Phone,
			m.Referrer,
			string(m.Placement),
			strconv.Itoa(m.DirectReferrals),
			strconv.Itoa(m.WeakLeg),
			m.Profit.String(),
			string(m.Role),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMembers maps columns by header name, so files missing a column still load:
// text columns default to "", referrer and placement to the "none" sentinel, role to user,
// and numeric columns that are missing or unparsable become zero.
func ReadMembers(r io.Reader) ([]models.Member, error) {
	rows, err := readTable(r, memberAliases)
	if err != nil {
		return nil, err
	}

	members := make([]models.Member, 0, len(rows))
	for _, row := range rows {
		referrer := strings.TrimSpace(row.get("referrer"))
		if referrer == "" {
			referrer = models.NoReferrer
		}
		placement, ok := models.ParsePlacement(row.get("placement"))
		if !ok {
			placement = models.PlacementNone
		}
		role := models.Role(strings.ToLower(strings.TrimSpace(row.get("role"))))
		if !role.Valid() {
			role = models.RoleUser
		}
		members = append(members, models.Member{
			ID:              strings.TrimSpace(row.get("id")),
			Password:        row.get("password"),
			Name:            row.get("name"),
			Email:           row.get("email"),
			Phone:           row.get("phone"),
			Referrer:        referrer,
			Placement:       placement,
			DirectReferrals: parseInt(row.get("direct_referrals")),
			WeakLeg:         parseInt(row.get("weak_leg")),
			Profit:          parseDecimal(row.get("profit")),
			Role:            role,
		})
	}
	return members, nil
}

func WriteEntries(w io.Writer, entries []models.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EntryColumns); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			e.Timestamp.UTC().Format(models.TimestampLayout),
			e.Actor,
			e.Target,
			string(e.Type),
			e.Amount.String(),
			e.Note,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadEntries returns entries in file order with Seq numbered from 1.
// History is never rewritten on read: unknown action types are kept verbatim.
func ReadEntries(r io.Reader) ([]models.Entry, error) {
	rows, err := readTable(r, nil)
	if err != nil {
		return nil, err
	}

	entries := make([]models.Entry, 0, len(rows))
	for i, row := range rows {
		ts, err := time.ParseInLocation(models.TimestampLayout, strings.TrimSpace(row.get("timestamp")), time.UTC)
		if err != nil {
			ts = time.Time{}
		}
		target := row.get("target")
		if target == "" {
			target = models.NotApplicable
		}
		entries = append(entries, models.Entry{
			Seq:       uint(i + 1),
			Timestamp: ts,
			Actor:     row.get("actor"),
			Target:    target,
			Type:      models.ActionType(strings.TrimSpace(row.get("type"))),
			Amount:    parseDecimal(row.get("amount")),
			Note:      row.get("note"),
		})
	}
	return entries, nil
}

type tableRow struct {
	index  map[string]int
	record []string
}

func (r tableRow) get(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return r.record[i]
}

func readTable(r io.Reader, aliases map[string]string) ([]tableRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if alias, ok := aliases[name]; ok {
			name = alias
		}
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	var rows []tableRow
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		rows = append(rows, tableRow{index: index, record: record})
	}
	return rows, nil
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	// pandas writes integer columns with missing cells as floats ("3.0")
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return 0
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
