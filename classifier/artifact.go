package classifier

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/blake2b"
)

const (
	ArtifactFormat = "traffic-classifier"
	// ArtifactVersion changes whenever the encoder or forest layout does.
	ArtifactVersion int32 = 1
)

// Metadata describes how an artifact was produced.
type Metadata struct {
	ModelVersion string    `bson:"model_version" json:"model_version"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	Trees        int       `bson:"trees" json:"trees"`
	TrainRows    int       `bson:"train_rows" json:"train_rows"`
	TestRows     int       `bson:"test_rows" json:"test_rows"`
	Accuracy     float64   `bson:"accuracy" json:"accuracy"`

	// ArtifactID is derived from the payload checksum on load, so two
	// trainings tagged with the same ModelVersion still differ.
	ArtifactID string `bson:"-" json:"artifact_id,omitempty"`
}

type envelope struct {
	Format   string   `bson:"format"`
	Version  int32    `bson:"version"`
	Meta     Metadata `bson:"meta"`
	Checksum []byte   `bson:"checksum"`
	Payload  []byte   `bson:"payload"`
}

// EncodeArtifact serializes a validated pipeline into a versioned envelope.
func EncodeArtifact(p *Pipeline, meta Metadata) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	payload, err := bson.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline: %w", err)
	}
	sum := blake2b.Sum256(payload)
	data, err := bson.Marshal(envelope{
		Format:   ArtifactFormat,
		Version:  ArtifactVersion,
		Meta:     meta,
		Checksum: sum[:],
		Payload:  payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeArtifact checks the envelope's format and version before touching
// the payload, then verifies the checksum and the pipeline's shape.
func DecodeArtifact(data []byte) (*Pipeline, Metadata, error) {
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}

	format, ok := raw.Lookup("format").StringValueOK()
	if !ok || format != ArtifactFormat {
		return nil, Metadata{}, fmt.Errorf("%w: format %q, want %q", ErrArtifactIncompatible, format, ArtifactFormat)
	}
	version, ok := raw.Lookup("version").Int32OK()
	if !ok || version != ArtifactVersion {
		return nil, Metadata{}, fmt.Errorf("%w: version %d, want %d", ErrArtifactIncompatible, version, ArtifactVersion)
	}

	var env envelope
	if err := bson.Unmarshal(data, &env); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	sum := blake2b.Sum256(env.Payload)
	if !bytes.Equal(sum[:], env.Checksum) {
		return nil, Metadata{}, fmt.Errorf("%w: checksum mismatch", ErrArtifactCorrupt)
	}

	var p Pipeline
	if err := bson.Unmarshal(env.Payload, &p); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if err := p.Validate(); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	meta := env.Meta
	meta.ArtifactID = hex.EncodeToString(env.Checksum[:artifactIDBytes])
	return &p, meta, nil
}

const artifactIDBytes = 8

// SaveArtifact encodes p and hands it to store in one write.
func SaveArtifact(ctx context.Context, store Store, p *Pipeline, meta Metadata) error {
	data, err := EncodeArtifact(p, meta)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, data); err != nil {
		return fmt.Errorf("save artifact to %s: %w", store, err)
	}
	log.Infof("model saved to %s (%d bytes)", store, len(data))
	return nil
}

// LoadArtifact reads and decodes the artifact held by store.
func LoadArtifact(ctx context.Context, store Store) (*Pipeline, Metadata, error) {
	data, err := store.Load(ctx)
	if err != nil {
		return nil, Metadata{}, err
	}
	return DecodeArtifact(data)
}
