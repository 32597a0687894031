package distribution

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"insight_backoffice_backend/internal/distribution/transport"
)

type rosterFile struct {
	Workers []transport.WorkerQuota `yaml:"workers"`
}

// LoadRoster reads the worker roster from a YAML file. An empty path returns
// an empty roster so deployments without a configured roster can still supply
// workers per request.
func LoadRoster(path string) ([]transport.WorkerQuota, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	var file rosterFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse roster file: %w", err)
	}

	for i, w := range file.Workers {
		if w.ID == uuid.Nil {
			return nil, fmt.Errorf("roster entry %d: missing worker id", i+1)
		}
		if w.Email == "" {
			return nil, fmt.Errorf("roster entry %d: missing worker email", i+1)
		}
		if w.Quota <= 0 {
			return nil, fmt.Errorf("roster entry %d (%s): quota must be positive", i+1, w.Email)
		}
	}
	return file.Workers, nil
}
