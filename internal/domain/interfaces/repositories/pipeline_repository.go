// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"

	"github.com/ochairo/kiln/internal/domain/entities"
)

// PipelineRepository loads pipeline definitions
type PipelineRepository interface {
	// GetPipeline loads the definition at path
	GetPipeline(ctx context.Context, path string) (*entities.Pipeline, error)
}
