package domain

import "context"

// Inferencer turns a prompt into model output.
type Inferencer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
