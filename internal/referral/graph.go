// Package referral holds the pure functions over the member table that derive referral
// counts, detect structural defects and repair dangling referrers.
package referral

import (
	"sort"

	"referral-ledger/internal/models"
)

// RecalcDirectReferrals returns a copy of members where every DirectReferrals equals the
// number of members whose Referrer is that member's ID.
func RecalcDirectReferrals(members []models.Member) []models.Member {
	counts := make(map[string]int, len(members))
	for _, m := range members {
		if m.HasReferrer() {
			counts[m.Referrer]++
		}
	}

	out := make([]models.Member, len(members))
	for i, m := range members {
		m.DirectReferrals = counts[m.ID]
		out[i] = m
	}
	return out
}

// FindDanglingReferrers returns the sorted IDs of members whose referrer is neither the
// sentinel nor an existing member.
func FindDanglingReferrers(members []models.Member) []string {
	ids := idSet(members)
	var out []string
	for _, m := range members {
		if m.HasReferrer() && !ids[m.Referrer] {
			out = append(out, m.ID)
		}
	}
	return sortedUnique(out)
}

func FindSelfReferrers(members []models.Member) []string {
	var out []string
	for _, m := range members {
		if m.Referrer == m.ID {
			out = append(out, m.ID)
		}
	}
	return sortedUnique(out)
}

func FindDuplicateIdentifiers(members []models.Member) []string {
	seen := make(map[string]int, len(members))
	for _, m := range members {
		seen[m.ID]++
	}
	var out []string
	for id, n := range seen {
		if n > 1 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// RepairDanglingReferrers resets every dangling referrer to the sentinel and recomputes
// referral counts. Self-referrers are left alone: there is no safe replacement referrer.
func RepairDanglingReferrers(members []models.Member) []models.Member {
	ids := idSet(members)
	out := make([]models.Member, len(members))
	for i, m := range members {
		if m.HasReferrer() && !ids[m.Referrer] {
			m.Referrer = models.NoReferrer
		}
		out[i] = m
	}
	return RecalcDirectReferrals(out)
}

type Report struct {
	Dangling   []string `json:"dangling_referrers"`
	Self       []string `json:"self_referrers"`
	Duplicates []string `json:"duplicate_identifiers"`
}

func (r Report) Clean() bool {
	return len(r.Dangling) == 0 && len(r.Self) == 0 && len(r.Duplicates) == 0
}

func (r Report) Total() int {
	return len(r.Dangling) + len(r.Self) + len(r.Duplicates)
}

func Inspect(members []models.Member) Report {
	return Report{
		Dangling:   FindDanglingReferrers(members),
		Self:       FindSelfReferrers(members),
		Duplicates: FindDuplicateIdentifiers(members),
	}
}

// Children returns the members directly referred by id, in table order.
func Children(members []models.Member, id string) []models.Member {
	var out []models.Member
	for _, m := range members {
		if m.Referrer == id && m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

type Node struct {
	Member   models.View `json:"member"`
	Children []Node      `json:"children,omitempty"`
}

// Downline builds the referral tree below id down to depth levels. Self-referrals
// and cycles are cut so the walk always terminates.
func Downline(members []models.Member, id string, depth int) []Node {
	return downline(members, id, depth, map[string]bool{id: true})
}

func downline(members []models.Member, id string, depth int, visited map[string]bool) []Node {
	if depth <= 0 {
		return nil
	}
	var nodes []Node
	for _, child := range Children(members, id) {
		if visited[child.ID] {
			continue
		}
		visited[child.ID] = true
		nodes = append(nodes, Node{
			Member:   child.View(),
			Children: downline(members, child.ID, depth-1, visited),
		})
	}
	return nodes
}

func idSet(members []models.Member) map[string]bool {
	ids := make(map[string]bool, len(members))
	for _, m := range members {
		ids[m.ID] = true
	}
	return ids
}

func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
