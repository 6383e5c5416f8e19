package classifier

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

type ClassMetrics struct {
	Label     string  `json:"label" bson:"label"`
	Precision float64 `json:"precision" bson:"precision"`
	Recall    float64 `json:"recall" bson:"recall"`
	F1        float64 `json:"f1" bson:"f1"`
	Support   int     `json:"support" bson:"support"`
}

// Report is the held-out evaluation of a trained pipeline.
type Report struct {
	Accuracy    float64        `json:"accuracy" bson:"accuracy"`
	Classes     []ClassMetrics `json:"classes" bson:"classes"`
	MacroAvg    ClassMetrics   `json:"macro_avg" bson:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg" bson:"weighted_avg"`
	Confusion   [][]int        `json:"confusion" bson:"confusion"`
	Total       int            `json:"total" bson:"total"`
}

// Evaluate compares predictions against the truth. Rows of the confusion
// matrix are true classes, columns predicted classes. Undefined ratios are 0.
func Evaluate(yTrue, yPred []int, labels []string) Report {
	n := len(labels)
	confusion := make([][]int, n)
	for i := range confusion {
		confusion[i] = make([]int, n)
	}
	correct := 0
	for i := range yTrue {
		confusion[yTrue[i]][yPred[i]]++
		if yTrue[i] == yPred[i] {
			correct++
		}
	}

	r := Report{Confusion: confusion, Total: len(yTrue)}
	if r.Total > 0 {
		r.Accuracy = float64(correct) / float64(r.Total)
	}

	for k, label := range labels {
		tp := confusion[k][k]
		predicted, support := 0, 0
		for j := 0; j < n; j++ {
			predicted += confusion[j][k]
			support += confusion[k][j]
		}
		precision := ratio(tp, predicted)
		recall := ratio(tp, support)
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		r.Classes = append(r.Classes, ClassMetrics{
			Label: label, Precision: precision, Recall: recall, F1: f1, Support: support,
		})
	}

	r.MacroAvg = ClassMetrics{
		Label:     "macro avg",
		Precision: lo.MeanBy(r.Classes, func(c ClassMetrics) float64 { return c.Precision }),
		Recall:    lo.MeanBy(r.Classes, func(c ClassMetrics) float64 { return c.Recall }),
		F1:        lo.MeanBy(r.Classes, func(c ClassMetrics) float64 { return c.F1 }),
		Support:   r.Total,
	}

	weighted := func(get func(ClassMetrics) float64) float64 {
		if r.Total == 0 {
			return 0
		}
		return lo.SumBy(r.Classes, func(c ClassMetrics) float64 { return get(c) * float64(c.Support) }) / float64(r.Total)
	}
	r.WeightedAvg = ClassMetrics{
		Label:     "weighted avg",
		Precision: weighted(func(c ClassMetrics) float64 { return c.Precision }),
		Recall:    weighted(func(c ClassMetrics) float64 { return c.Recall }),
		F1:        weighted(func(c ClassMetrics) float64 { return c.F1 }),
		Support:   r.Total,
	}
	return r
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// String renders the report as a fixed-width table.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%14s %10s %10s %10s %10s\n\n", "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%14s %10.2f %10.2f %10.2f %10d\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "\n%14s %10s %10s %10.2f %10d\n", "accuracy", "", "", r.Accuracy, r.Total)
	for _, c := range []ClassMetrics{r.MacroAvg, r.WeightedAvg} {
		fmt.Fprintf(&b, "%14s %10.2f %10.2f %10.2f %10d\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	return b.String()
}
