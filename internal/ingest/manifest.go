package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rxtech-lab/tickbar/internal/types"
	"github.com/rxtech-lab/tickbar/internal/version"
	"github.com/rxtech-lab/tickbar/pkg/errors"
)

// ManifestWriter records provenance for a run: per-artifact content hashes,
// versions, and the fully resolved configuration. The manifest is the
// canonical fingerprint downstream modules check before trusting a run.
type ManifestWriter struct {
	runID string
	seed  int64
}

// NewManifestWriter builds a manifest writer for the given run identity.
func NewManifestWriter(runID string, seed int64) *ManifestWriter {
	return &ManifestWriter{runID: runID, seed: seed}
}

// Build hashes every artifact and assembles the manifest. artifactPaths
// maps artifact names (file names inside the run dir) to absolute paths.
func (m *ManifestWriter) Build(cfg Config, artifactPaths map[string]string, createdAt time.Time) (types.Manifest, error) {
	resolved, err := cfg.ResolvedJSON()
	if err != nil {
		return types.Manifest{}, errors.Wrap(errors.ErrCodeIO, "failed to snapshot config", err)
	}

	files := make(map[string]string, len(artifactPaths))

	for name, path := range artifactPaths {
		digest, err := hashFile(path)
		if err != nil {
			return types.Manifest{}, err
		}

		files[name] = digest
	}

	return types.Manifest{
		RunID:         m.runID,
		Seed:          m.seed,
		ModuleVersion: version.GetModuleVersion(),
		SchemaVersion: version.SchemaVersion,
		BarRulesID:    version.BarRulesID,
		CreatedAt:     createdAt.UTC(),
		Config:        resolved,
		Files:         files,
	}, nil
}

// WriteManifest serializes the manifest as indented JSON.
func WriteManifest(path string, manifest types.Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeIO, "failed to marshal manifest", err)
	}

	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(errors.ErrCodeIO, err, "failed to write manifest %s", path)
	}

	return nil
}

// ReadManifest loads a manifest file.
func ReadManifest(path string) (types.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Manifest{}, errors.Wrapf(errors.ErrCodeIO, err, "failed to read manifest %s", path)
	}

	var manifest types.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return types.Manifest{}, errors.Wrapf(errors.ErrCodeIO, err, "failed to parse manifest %s", path)
	}

	return manifest, nil
}

// VerifyManifest re-hashes every artifact named in the manifest (resolved
// relative to the manifest's directory) and checks that the recorded schema
// version is compatible with this build. Returns the verified file names.
func VerifyManifest(manifestPath string) ([]string, error) {
	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	if err := version.CheckSchemaCompatibility(manifest.SchemaVersion, version.SchemaVersion); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfig, "incompatible schema version", err)
	}

	dir := filepath.Dir(manifestPath)

	names := make([]string, 0, len(manifest.Files))
	for name := range manifest.Files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		digest, err := hashFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}

		if digest != manifest.Files[name] {
			return nil, errors.Newf(errors.ErrCodeIO,
				"artifact %s hash mismatch: manifest %s, observed %s", name, manifest.Files[name], digest)
		}
	}

	return names, nil
}

// hashFile computes the sha256 hex digest of a file without loading it
// into memory.
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(errors.ErrCodeIO, err, "failed to open artifact %s", path)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", errors.Wrapf(errors.ErrCodeIO, err, "failed to hash artifact %s", path)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
