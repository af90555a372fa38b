package engine

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// ModelLoader guards access to a local engine's model data. The check runs
// at most once, on explicit warm-up or on the first request, and every
// request afterwards reads the cached outcome.
type ModelLoader struct {
	path  string
	once  sync.Once
	err   error
	ready atomic.Bool
}

func NewModelLoader(path string) *ModelLoader {
	return &ModelLoader{path: path}
}

// Ensure verifies the model data exists. Safe for concurrent use.
func (l *ModelLoader) Ensure() error {
	l.once.Do(func() {
		if l.path == "" {
			l.ready.Store(true)
			return
		}
		info, err := os.Stat(l.path)
		if err != nil {
			l.err = fmt.Errorf("stat model path: %w", err)
			return
		}
		if !info.IsDir() && info.Size() == 0 {
			l.err = fmt.Errorf("model file %s is empty", l.path)
			return
		}
		l.ready.Store(true)
	})
	return l.err
}

// Ready reports whether the model has been verified. It never triggers the
// load itself, so health checks stay cheap.
func (l *ModelLoader) Ready() bool {
	return l.ready.Load()
}
