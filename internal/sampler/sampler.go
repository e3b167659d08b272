// Package sampler shrinks a review dataset to a target size while keeping
// the distribution of star ratings close to the source.
package sampler

import (
	"cmp"
	"errors"
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/quiby-ai/review-search/internal/corpus"
)

var (
	ErrEmptyDataset  = errors.New("empty dataset")
	ErrInvalidTarget = errors.New("invalid target")
)

type stratum struct {
	rating int
	rows   []int
}

// Sample draws a rating-stratified subset of ds.
//
// For an absolute count n every stratum gets floor(c_r*n/N) rows and the
// shortfall left by rounding down is drawn at random from the rows not yet
// selected. For a proportion p the subset holds ceil(p*N) rows split across
// strata by largest remainder. Strata are visited in ascending rating order
// with a single generator seeded from seed, so identical inputs give
// identical output.
//
// The result always carries 1-based star ratings: a 0-based label column is
// shifted by one after selection.
func Sample(ds *corpus.Dataset, target Target, seed int64) (*corpus.Dataset, error) {
	if ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	if ds.RatingField == "" {
		return nil, corpus.ErrMissingRatingField
	}

	total := ds.Len()
	n, err := target.size(total)
	if err != nil {
		return nil, err
	}

	strata := partition(ds)

	var quotas []int
	if target.IsFraction() {
		quotas = largestRemainderQuotas(strata, n, total)
	} else {
		quotas = floorQuotas(strata, n, total)
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	selected := make([]bool, total)
	picked := make([]int, 0, n)

	for i, s := range strata {
		idx := slices.Clone(s.rows)
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		for _, j := range idx[:quotas[i]] {
			selected[j] = true
			picked = append(picked, j)
		}
	}

	if missing := n - len(picked); missing > 0 {
		rest := make([]int, 0, total-len(picked))
		for j := range total {
			if !selected[j] {
				rest = append(rest, j)
			}
		}
		rng.Shuffle(len(rest), func(a, b int) { rest[a], rest[b] = rest[b], rest[a] })
		picked = append(picked, rest[:missing]...)
	}

	return project(ds, picked), nil
}

func partition(ds *corpus.Dataset) []stratum {
	byRating := make(map[int][]int)
	for i, row := range ds.Rows {
		byRating[row.Rating] = append(byRating[row.Rating], i)
	}

	strata := make([]stratum, 0, len(byRating))
	for _, rating := range slices.Sorted(maps.Keys(byRating)) {
		strata = append(strata, stratum{rating: rating, rows: byRating[rating]})
	}
	return strata
}

func floorQuotas(strata []stratum, n, total int) []int {
	quotas := make([]int, len(strata))
	for i, s := range strata {
		quotas[i] = int(int64(len(s.rows)) * int64(n) / int64(total))
	}
	return quotas
}

// largestRemainderQuotas allocates exactly n rows. Ties on the remainder go
// to the lower rating.
func largestRemainderQuotas(strata []stratum, n, total int) []int {
	quotas := floorQuotas(strata, n, total)
	left := n
	for _, q := range quotas {
		left -= q
	}

	order := make([]int, len(strata))
	for i := range order {
		order[i] = i
	}
	remainder := func(i int) int64 {
		return int64(len(strata[i].rows)) * int64(n) % int64(total)
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(remainder(b), remainder(a))
	})

	for _, i := range order[:left] {
		quotas[i]++
	}
	return quotas
}

func project(ds *corpus.Dataset, picked []int) *corpus.Dataset {
	out := &corpus.Dataset{
		Language:    ds.Language,
		TextField:   ds.TextField,
		RatingField: corpus.FieldStars,
		Columns:     slices.Clone(ds.Columns),
		Rows:        make([]corpus.Row, len(picked)),
	}
	for i, j := range picked {
		src := ds.Rows[j]
		out.Rows[i] = corpus.Row{
			Text:   src.Text,
			Rating: ds.Stars(j),
			Extra:  maps.Clone(src.Extra),
		}
	}
	return out
}
