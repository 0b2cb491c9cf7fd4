package dpc

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Manifest records what a run produced and with which parameters, so
// rendered outputs stay traceable to their inputs.
type Manifest struct {
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
	Params    *Params   `json:"params"`
	Files     []string  `json:"files"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
}

func newManifest(params *Params) Manifest {
	return Manifest{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Params:    params,
	}
}

func (m *Manifest) addFile(path string) {
	m.Files = append(m.Files, path)
}

// save writes the manifest with its final metrics as indented JSON.
func (m *Manifest) save(path string, metrics Metrics) error {
	m.Metrics = &metrics

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
