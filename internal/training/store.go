package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmlee/statarb/internal/contracts"
)

// modelFile is the on-disk form of a calibrated model.
type modelFile struct {
	Model      *LogisticModel `json:"model"`
	Calibrator *Calibrator    `json:"calibrator"`
}

// Store persists artifacts under <dir>/<version>/. Files are written
// once and never rewritten; a version directory that already exists is
// an error.
type Store struct {
	dir string
}

// NewStore creates the artifact root if missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the model pair and artifact record, filling in the
// artifact's model paths.
func (s *Store) Save(result *Result) error {
	dir := filepath.Join(s.dir, result.Artifact.Version)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("artifact version %s already exists", result.Artifact.Version)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create version dir: %w", err)
	}

	ai1Path := filepath.Join(dir, "ai1.json")
	ai2Path := filepath.Join(dir, "ai2.json")
	if err := writeModel(ai1Path, result.AI1); err != nil {
		return err
	}
	if err := writeModel(ai2Path, result.AI2); err != nil {
		return err
	}
	result.Artifact.AI1Path = ai1Path
	result.Artifact.AI2Path = ai2Path

	data, err := json.MarshalIndent(result.Artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "artifact.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact record: %w", err)
	}
	return nil
}

// LoadArtifact reads a persisted artifact record by version.
func (s *Store) LoadArtifact(version string) (*contracts.ModelArtifact, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, version, "artifact.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", version, err)
	}
	var artifact contracts.ModelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", version, err)
	}
	return &artifact, nil
}

// LoadModel reads one calibrated model from its artifact path.
func LoadModel(path string) (*CalibratedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	if mf.Model == nil || mf.Calibrator == nil {
		return nil, fmt.Errorf("model file %s is incomplete", path)
	}
	return &CalibratedModel{Base: mf.Model, Cal: mf.Calibrator}, nil
}

func writeModel(path string, m *CalibratedModel) error {
	base, ok := m.Base.(*LogisticModel)
	if !ok {
		return fmt.Errorf("unsupported model type %T for serialization", m.Base)
	}
	data, err := json.MarshalIndent(modelFile{Model: base, Calibrator: m.Cal}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model %s: %w", path, err)
	}
	return nil
}
