// Tile classification by percentage targets.
// Two passes over an allocated grid: a water/land split, then the land
// subcategory split. Tiles are sampled independently; there is no clustering.
package world

import "fmt"

// Rand is the random source used by the classifier. *math/rand.Rand
// satisfies it; tests can script exact draws.
type Rand interface {
	// Intn returns a uniform int in [0, n). n is always > 0.
	Intn(n int) int
}

// Summary reports the targets and actual assignments of one classification.
type Summary struct {
	Total       int              `json:"total"`
	WaterTarget int              `json:"water_target"`
	LandTarget  int              `json:"land_target"`
	Targets     map[Category]int `json:"targets"` // Requested count per land subcategory
	Claimed     map[Category]int `json:"claimed"` // Tiles actually reassigned in pass 2
	Counts      map[Category]int `json:"counts"`  // Final tiles per category
}

// SampleIndices draws k distinct indices uniformly from [0, n) without
// replacement, using a sparse partial Fisher–Yates shuffle. Every k-subset is
// equally likely. Asking for more indices than exist fails with ErrOutOfRange.
func SampleIndices(rng Rand, n, k int) ([]int, error) {
	if k < 0 || n < 0 || k > n {
		return nil, fmt.Errorf("sample %d of %d: %w", k, n, ErrOutOfRange)
	}

	// swapped records positions whose value differs from the identity.
	swapped := make(map[int]int, k)
	valueAt := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}

	out := make([]int, k)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		vi, vj := valueAt(i), valueAt(j)
		out[i] = vj
		swapped[j] = vi
		delete(swapped, i)
	}
	return out, nil
}

// PercentOf returns floor(total × percent / 100).
func PercentOf(total, percent int) int {
	return total * percent / 100
}

// Classify assigns categories to an allocated grid according to cfg.
//
// Pass 1 picks floor(total×water/100) distinct tiles and makes them water.
// Pass 2 walks LandCategories in order; each draws floor(land×pct/100)
// distinct indices from the whole grid and claims only those tiles still at
// DefaultCategory. Water tiles and tiles claimed by an earlier subcategory are
// left alone, so claimed counts are at most their targets and grass ends up
// as whatever is left.
func Classify(g *Grid, cfg WorldConfig, rng Rand) (Summary, error) {
	total := g.Len()
	if total != cfg.TotalTiles() {
		return Summary{}, fmt.Errorf("grid %dx%d does not match config %dx%d: %w",
			g.Width, g.Height, cfg.Width, cfg.Height, ErrInvalidValue)
	}

	sum := Summary{
		Total:   total,
		Targets: make(map[Category]int),
		Claimed: make(map[Category]int),
	}

	sum.WaterTarget = PercentOf(total, cfg.WaterPercent)
	water, err := SampleIndices(rng, total, sum.WaterTarget)
	if err != nil {
		return Summary{}, fmt.Errorf("water pass: %w", err)
	}
	for _, i := range water {
		g.Cells[i].Category = CategoryWater
	}

	sum.LandTarget = total - sum.WaterTarget
	for _, cat := range LandCategories() {
		target := PercentOf(sum.LandTarget, cfg.LandShare(cat))
		sum.Targets[cat] = target

		picks, err := SampleIndices(rng, total, target)
		if err != nil {
			return Summary{}, fmt.Errorf("%s pass: %w", cat.Name(), err)
		}
		for _, i := range picks {
			if g.Cells[i].Category == DefaultCategory {
				g.Cells[i].Category = cat
				sum.Claimed[cat]++
			}
		}
	}

	sum.Counts = g.Counts()
	return sum, nil
}
