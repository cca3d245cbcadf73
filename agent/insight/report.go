package insight

import (
	"sort"
	"time"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
	memoryx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/memory"
	performancex "github.com/tanpawarit/Chative-Learning-Coordinator/agent/performance"
)

const DefaultTopN = 5

type Count struct {
	Key   string `json:"key"`
	Count uint64 `json:"count"`
}

type Trend struct {
	Category string  `json:"category"`
	Slope    float64 `json:"slope"`
}

type UnitStanding struct {
	UnitID            contractx.UnitID `json:"unit_id"`
	SuccessRate       float64          `json:"success_rate"`
	Volume            uint64           `json:"volume"`
	AverageConfidence float64          `json:"average_confidence"`
	AverageFeedback   float64          `json:"average_feedback"`
}

// Report is a read-only business view built from memory and performance snapshots.
type Report struct {
	TopCategories     []Count        `json:"top_categories"`
	TopTags           []Count        `json:"top_tags"`
	Rising            []Trend        `json:"rising"`
	Falling           []Trend        `json:"falling"`
	CustomersTracked  int            `json:"customers_tracked"`
	DecliningCustomer []string       `json:"declining_customers,omitempty"`
	Leaderboard       []UnitStanding `json:"leaderboard"`
	TotalVolume       uint64         `json:"total_volume"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

func Build(mem memoryx.Snapshot, perf performancex.Snapshot, topN int) Report {
	if topN <= 0 {
		topN = DefaultTopN
	}

	report := Report{
		TopCategories:    topCounts(mem.CategoryFrequency, topN),
		TopTags:          topCounts(mem.TagFrequency, topN),
		CustomersTracked: len(mem.Customers),
		GeneratedAt:      mem.TakenAt,
	}

	for category, slope := range mem.CategoryTrends {
		switch {
		case slope > 0:
			report.Rising = append(report.Rising, Trend{Category: category, Slope: slope})
		case slope < 0:
			report.Falling = append(report.Falling, Trend{Category: category, Slope: slope})
		}
	}
	sort.Slice(report.Rising, func(i, j int) bool {
		if report.Rising[i].Slope != report.Rising[j].Slope {
			return report.Rising[i].Slope > report.Rising[j].Slope
		}
		return report.Rising[i].Category < report.Rising[j].Category
	})
	sort.Slice(report.Falling, func(i, j int) bool {
		if report.Falling[i].Slope != report.Falling[j].Slope {
			return report.Falling[i].Slope < report.Falling[j].Slope
		}
		return report.Falling[i].Category < report.Falling[j].Category
	})
	report.Rising = truncate(report.Rising, topN)
	report.Falling = truncate(report.Falling, topN)

	for id, profile := range mem.Customers {
		if profile.Trend < 0 {
			report.DecliningCustomer = append(report.DecliningCustomer, id)
		}
	}
	sort.Strings(report.DecliningCustomer)

	for _, s := range perf.Units {
		report.TotalVolume += s.Volume
		report.Leaderboard = append(report.Leaderboard, UnitStanding{
			UnitID:            s.UnitID,
			SuccessRate:       s.SuccessRate,
			Volume:            s.Volume,
			AverageConfidence: s.AverageConfidence(),
			AverageFeedback:   s.AverageFeedback(),
		})
	}
	sort.Slice(report.Leaderboard, func(i, j int) bool {
		a, b := report.Leaderboard[i], report.Leaderboard[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.Volume != b.Volume {
			return a.Volume > b.Volume
		}
		return a.UnitID < b.UnitID
	})
	return report
}

func topCounts(m map[string]uint64, n int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return truncate(out, n)
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
