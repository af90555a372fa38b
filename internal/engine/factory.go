package engine

import (
	"fmt"

	"github.com/aacboard/speechgate/internal/config"
)

// New builds a worker from its config. Exec workers get a ModelLoader so
// local model data is verified once and shared across requests; the loader
// is nil for the other modes.
func New(cfg config.EngineConfig) (Worker, *ModelLoader, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockWorker(cfg.ID), nil, nil
	case "exec":
		loader := NewModelLoader(cfg.ModelPath)
		worker, err := NewExecWorker(cfg, loader)
		if err != nil {
			return nil, nil, err
		}
		return worker, loader, nil
	case "openai":
		return NewOpenAIWorker(cfg), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
}
