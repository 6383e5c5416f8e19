package classifier

import "errors"

var (
	ErrDatasetMissing       = errors.New("dataset missing")
	ErrEmptyDataset         = errors.New("dataset is empty")
	ErrShapeMismatch        = errors.New("shape mismatch")
	ErrArtifactMissing      = errors.New("model artifact missing")
	ErrArtifactCorrupt      = errors.New("model artifact corrupt")
	ErrArtifactIncompatible = errors.New("model artifact incompatible")
)
