package ledger

// Tier is one row of the tier table. Rank orders tiers, None is rank 0.
type Tier struct {
	Rank      int
	Label     string
	Threshold int64
	Bonus     int64
}

const TierNone = "None"

var tiers = []Tier{
	{Rank: 0, Label: TierNone, Threshold: 0, Bonus: 0},
	{Rank: 1, Label: "Tier 1", Threshold: 200, Bonus: 100},
	{Rank: 2, Label: "Tier 2", Threshold: 1000, Bonus: 500},
	{Rank: 3, Label: "Tier 3", Threshold: 3000, Bonus: 1000},
	{Rank: 4, Label: "Tier 4", Threshold: 6000, Bonus: 2500},
	{Rank: 5, Label: "Tier 5", Threshold: 10000, Bonus: 5000},
}

// Tiers returns a copy of the tier table, lowest first.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// TierFor returns the highest tier whose threshold total reaches.
func TierFor(total int64) Tier {
	for i := len(tiers) - 1; i >= 0; i-- {
		if total >= tiers[i].Threshold {
			return tiers[i]
		}
	}
	return tiers[0]
}

// TierByLabel looks a tier up by label.
func TierByLabel(label string) (Tier, bool) {
	for _, t := range tiers {
		if t.Label == label {
			return t, true
		}
	}
	return Tier{}, false
}
