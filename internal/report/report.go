package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"referral-ledger/internal/models"
)

// DefaultEdges are the profit bucket boundaries used by the report tab.
var DefaultEdges = []decimal.Decimal{
	decimal.Zero,
	decimal.NewFromInt(100),
	decimal.NewFromInt(500),
	decimal.NewFromInt(1000),
	decimal.NewFromInt(5000),
}

type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ProfitHistogram counts members per profit bucket. With edges e0 < e1 < ... < en the
// buckets are (-inf, e0), [e0, e1), ..., [en, +inf); every bucket is returned.
func ProfitHistogram(members []models.Member, edges []decimal.Decimal) []Bucket {
	if len(edges) == 0 {
		edges = DefaultEdges
	}
	buckets := make([]Bucket, len(edges)+1)
	buckets[0].Label = "<" + edges[0].String()
	for i := 0; i < len(edges)-1; i++ {
		buckets[i+1].Label = edges[i].String() + "-" + edges[i+1].String()
	}
	buckets[len(edges)].Label = edges[len(edges)-1].String() + "+"

	for _, m := range members {
		i := sort.Search(len(edges), func(i int) bool {
			return m.Profit.LessThan(edges[i])
		})
		buckets[i].Count++
	}
	return buckets
}

// TopReferrers returns up to n members with the most direct referrals, ties by ID.
func TopReferrers(members []models.Member, n int) []models.View {
	sorted := make([]models.Member, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DirectReferrals != sorted[j].DirectReferrals {
			return sorted[i].DirectReferrals > sorted[j].DirectReferrals
		}
		return sorted[i].ID < sorted[j].ID
	})

	var out []models.View
	for _, m := range sorted {
		if len(out) == n || m.DirectReferrals == 0 {
			break
		}
		out = append(out, m.View())
	}
	return out
}

type Overview struct {
	Members      int             `json:"members"`
	Admins       int             `json:"admins"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
	TotalWeakLeg int             `json:"total_weak_leg"`
	Histogram    []Bucket        `json:"histogram"`
	TopReferrers []models.View   `json:"top_referrers"`
}

func Build(members []models.Member) Overview {
	o := Overview{
		Members:      len(members),
		TotalProfit:  decimal.Zero,
		Histogram:    ProfitHistogram(members, nil),
		TopReferrers: TopReferrers(members, 5),
	}
	for _, m := range members {
		if m.IsAdmin() {
			o.Admins++
		}
		o.TotalProfit = o.TotalProfit.Add(m.Profit)
		o.TotalWeakLeg += m.WeakLeg
	}
	return o
}
