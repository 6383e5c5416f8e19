package classifier

import (
	"fmt"
	"sort"

	"cityflow/traffic-classifier/models"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Column order of the encoded vector: numeric columns first, then one block
// per categorical column.
var (
	NumericColumns     = []string{"hour", "avg_speed"}
	CategoricalColumns = []string{"day_of_week", "road_type", "weather_condition"}
)

// Encoder standardizes the numeric features and one-hot expands the
// categorical ones. A fitted Encoder is immutable.
type Encoder struct {
	Means      []float64  `bson:"means"`
	Scales     []float64  `bson:"scales"`
	Categories [][]string `bson:"categories"`
}

func numericValues(f models.Features) [2]float64 {
	return [2]float64{float64(f.Hour), f.AvgSpeed}
}

func categoricalValues(f models.Features) [3]string {
	return [3]string{string(f.DayOfWeek), string(f.RoadType), string(f.WeatherCondition)}
}

// FitEncoder learns scaling statistics and category sets from fs.
func FitEncoder(fs []models.Features) (*Encoder, error) {
	if len(fs) == 0 {
		return nil, ErrEmptyDataset
	}

	e := &Encoder{
		Means:      make([]float64, len(NumericColumns)),
		Scales:     make([]float64, len(NumericColumns)),
		Categories: make([][]string, len(CategoricalColumns)),
	}

	col := make([]float64, len(fs))
	for j := range NumericColumns {
		for i, f := range fs {
			col[i] = numericValues(f)[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		e.Means[j], e.Scales[j] = mean, std
	}

	for j := range CategoricalColumns {
		values := lo.Uniq(lo.Map(fs, func(f models.Features, _ int) string {
			return categoricalValues(f)[j]
		}))
		sort.Strings(values)
		e.Categories[j] = values
	}
	return e, nil
}

// Width is the length of an encoded vector.
func (e *Encoder) Width() int {
	return len(e.Means) + lo.SumBy(e.Categories, func(c []string) int { return len(c) })
}

// FeatureNames labels every encoded column, e.g. "road_type=Urban".
func (e *Encoder) FeatureNames() []string {
	names := append([]string(nil), NumericColumns...)
	for j, cats := range e.Categories {
		for _, c := range cats {
			names = append(names, CategoricalColumns[j]+"="+c)
		}
	}
	return names
}

func (e *Encoder) validate() error {
	if len(e.Means) != len(NumericColumns) || len(e.Scales) != len(NumericColumns) {
		return fmt.Errorf("%w: encoder has %d numeric columns, want %d", ErrShapeMismatch, len(e.Means), len(NumericColumns))
	}
	if len(e.Categories) != len(CategoricalColumns) {
		return fmt.Errorf("%w: encoder has %d categorical columns, want %d", ErrShapeMismatch, len(e.Categories), len(CategoricalColumns))
	}
	return nil
}

// Transform encodes one feature vector. Categories not seen during fitting
// leave their whole block at zero.
func (e *Encoder) Transform(f models.Features) []float64 {
	out := make([]float64, e.Width())
	e.transformInto(out, f)
	return out
}

func (e *Encoder) transformInto(dst []float64, f models.Features) {
	num := numericValues(f)
	for j := range e.Means {
		dst[j] = (num[j] - e.Means[j]) / e.Scales[j]
	}
	off := len(e.Means)
	cat := categoricalValues(f)
	for j, cats := range e.Categories {
		block := dst[off : off+len(cats)]
		for k := range block {
			block[k] = 0
		}
		if k := sort.SearchStrings(cats, cat[j]); k < len(cats) && cats[k] == cat[j] {
			block[k] = 1
		}
		off += len(cats)
	}
}

// TransformAll encodes a batch into a rows x Width matrix. An empty batch
// yields an empty matrix, since mat.NewDense rejects zero rows.
func (e *Encoder) TransformAll(fs []models.Features) *mat.Dense {
	if len(fs) == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(len(fs), e.Width(), nil)
	for i, f := range fs {
		e.transformInto(m.RawRowView(i), f)
	}
	return m
}

// InverseCategory decodes categorical column j of an encoded vector. It
// reports false when the block is all zero.
func (e *Encoder) InverseCategory(j int, encoded []float64) (string, bool) {
	if j < 0 || j >= len(e.Categories) || len(encoded) != e.Width() {
		return "", false
	}
	off := len(e.Means)
	for _, cats := range e.Categories[:j] {
		off += len(cats)
	}
	for k, c := range e.Categories[j] {
		if encoded[off+k] == 1 {
			return c, true
		}
	}
	return "", false
}

// InverseNumeric undoes the scaling of numeric column j.
func (e *Encoder) InverseNumeric(j int, encoded []float64) float64 {
	return encoded[j]*e.Scales[j] + e.Means[j]
}
