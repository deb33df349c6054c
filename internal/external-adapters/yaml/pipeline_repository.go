package yaml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ochairo/kiln/internal/domain/entities"
)

// DefinitionNames are looked up, in order, when a directory is given
var DefinitionNames = []string{"kiln.yml", "kiln.yaml", "kiln.jsonc", "kiln.json"}

// PipelineRepository implements repositories.PipelineRepository using files on disk
type PipelineRepository struct {
	parser *PipelineParser
}

// NewPipelineRepository creates a new file-based pipeline repository
func NewPipelineRepository() *PipelineRepository {
	return &PipelineRepository{parser: NewPipelineParser()}
}

// GetPipeline loads the definition at path. A directory is searched for the
// first of DefinitionNames.
func (r *PipelineRepository) GetPipeline(_ context.Context, path string) (*entities.Pipeline, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("pipeline definition not found: %s", path)
	}
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return r.parser.ParseFile(path)
	}

	for _, name := range DefinitionNames {
		candidate := filepath.Join(path, name)
		if _, err := os.Stat(candidate); err == nil {
			return r.parser.ParseFile(candidate)
		}
	}
	return nil, fmt.Errorf("no pipeline definition (%v) in %s", DefinitionNames, path)
}
