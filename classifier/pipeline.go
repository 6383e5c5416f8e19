package classifier

import (
	"fmt"

	"cityflow/traffic-classifier/models"
)

// Pipeline pairs a fitted encoder with the forest trained on its output. The
// two only ever travel together; the forest's input width is the encoder's
// output width.
type Pipeline struct {
	Encoder *Encoder `bson:"encoder"`
	Forest  *Forest  `bson:"forest"`
}

// Validate checks that the encoder and forest fit together.
func (p *Pipeline) Validate() error {
	if p.Encoder == nil || p.Forest == nil {
		return fmt.Errorf("%w: pipeline is missing a stage", ErrShapeMismatch)
	}
	if err := p.Encoder.validate(); err != nil {
		return err
	}
	if err := p.Forest.validate(); err != nil {
		return err
	}
	if w := p.Encoder.Width(); w != p.Forest.NFeatures {
		return fmt.Errorf("%w: encoder width %d, forest expects %d", ErrShapeMismatch, w, p.Forest.NFeatures)
	}
	if p.Forest.NClasses != models.NumLevels {
		return fmt.Errorf("%w: forest has %d classes, want %d", ErrShapeMismatch, p.Forest.NClasses, models.NumLevels)
	}
	return nil
}

// PredictProba returns the probability of each traffic level.
func (p *Pipeline) PredictProba(f models.Features) []float64 {
	return p.Forest.PredictProba(p.Encoder.Transform(f))
}

func (p *Pipeline) Predict(f models.Features) models.TrafficLevel {
	return models.TrafficLevel(p.Forest.Predict(p.Encoder.Transform(f)))
}

// PredictAll labels a batch.
func (p *Pipeline) PredictAll(fs []models.Features) []models.TrafficLevel {
	x := p.Encoder.TransformAll(fs)
	out := make([]models.TrafficLevel, len(fs))
	for i := range out {
		out[i] = models.TrafficLevel(p.Forest.Predict(x.RawRowView(i)))
	}
	return out
}
