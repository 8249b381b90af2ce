package reconciliation

import (
	"sort"
	"strings"
)

// Match pairs each deposit with at most one pending order of the same
// amount whose account or shipping name normalizes to the payer name.
// Orders are tried oldest first and each order pays at most one deposit,
// so repeated identical deposits land on distinct orders. Orders without
// an account name are never candidates.
func Match(deposits []DepositRow, orders []PendingOrder) Result {
	candidates := make([]PendingOrder, len(orders))
	copy(candidates, orders)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	accountNames := make([]string, len(candidates))
	shippingNames := make([]string, len(candidates))
	for i, o := range candidates {
		accountNames[i] = NormalizeName(o.AccountName)
		shippingNames[i] = NormalizeName(o.ShippingName)
	}

	res := Result{Matched: []MatchedRow{}, Unmatched: []UnmatchedRow{}}
	consumed := make([]bool, len(candidates))

	for _, d := range deposits {
		if len(candidates) == 0 {
			res.Unmatched = append(res.Unmatched, UnmatchedRow{Transfer: d, Reason: ReasonNoPendingOrders})
			continue
		}

		hit := -1
		if d.NormalizedName != "" {
			for i, o := range candidates {
				if consumed[i] || o.Amount != d.Amount || strings.TrimSpace(o.AccountName) == "" {
					continue
				}
				if d.NormalizedName == accountNames[i] || d.NormalizedName == shippingNames[i] {
					hit = i
					break
				}
			}
		}

		if hit < 0 {
			res.Unmatched = append(res.Unmatched, UnmatchedRow{Transfer: d, Reason: ReasonNoMatchingOrder})
			continue
		}
		consumed[hit] = true
		res.Matched = append(res.Matched, MatchedRow{Order: candidates[hit], Transfer: d})
	}

	res.Summary = Summary{
		Total:     len(deposits),
		Matched:   len(res.Matched),
		Unmatched: len(res.Unmatched),
	}
	return res
}
