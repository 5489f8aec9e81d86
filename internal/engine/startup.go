package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/kalambet/seedbank/internal/ollama"
)

// EnsureReady checks that the backend is reachable and that every named model
// is available, pulling missing ones with progress written to w.
// Empty and repeated names are skipped.
func EnsureReady(ctx context.Context, b Backend, w io.Writer, models ...string) error {
	if !b.IsRunning(ctx) {
		return fmt.Errorf("inference backend is not running; start it with: ollama serve")
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if b.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := b.PullModel(ctx, model, func(p ollama.PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	return nil
}
