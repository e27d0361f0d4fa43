package audio

import (
	"context"

	"undersounds/model"
)

// Encoder produces one rendition of inputFile at outputFile following policy.
type Encoder interface {
	Encode(ctx context.Context, inputFile, outputFile string, policy model.TierPolicy) error
}

// Prober reads stream metadata of a source asset.
type Prober interface {
	Duration(ctx context.Context, inputFile string) (float32, error)
	AudioCodec(ctx context.Context, inputFile string) (string, error)
}
