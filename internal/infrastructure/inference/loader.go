// Package inference loads the audio event classifier.
package inference

import (
	"fmt"
	"os"

	"vigil/internal/core/domain"
)

type Config struct {
	ModelPath string
	Threads   int
}

// checkArtifact reports a missing or unreadable model file as a
// ModelLoadError before any runtime is touched.
func checkArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &domain.ModelLoadError{Path: path, Cause: err}
	}
	if info.IsDir() || info.Size() == 0 {
		return &domain.ModelLoadError{Path: path, Cause: fmt.Errorf("not a model file")}
	}
	return nil
}
