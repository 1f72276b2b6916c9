package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckSchemaCompatibility checks whether a bar schema version recorded in a
// manifest can be consumed by a reader built against another schema version.
// Returns nil if compatible, error with details if not.
//
// Compatibility Rules:
//   - If either version is "main" (development build), compatibility check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.0.0 is compatible with 1.0.5)
func CheckSchemaCompatibility(producedVersion, readerVersion string) error {
	// Strip 'v' prefix if present for consistency
	producedVersion = strings.TrimPrefix(producedVersion, "v")
	readerVersion = strings.TrimPrefix(readerVersion, "v")

	// Skip version check for "main" (development builds)
	if producedVersion == "main" || readerVersion == "main" {
		return nil
	}

	produced, err := semver.NewVersion(producedVersion)
	if err != nil {
		return fmt.Errorf("invalid produced schema version '%s': %w", producedVersion, err)
	}

	reader, err := semver.NewVersion(readerVersion)
	if err != nil {
		return fmt.Errorf("invalid reader schema version '%s': %w", readerVersion, err)
	}

	if produced.Major() != reader.Major() {
		return fmt.Errorf("major version mismatch: artifacts use schema %d.x.x but reader expects %d.x.x",
			produced.Major(), reader.Major())
	}

	if produced.Minor() != reader.Minor() {
		return fmt.Errorf("minor version mismatch: artifacts use schema %d.%d.x but reader expects %d.%d.x",
			produced.Major(), produced.Minor(),
			reader.Major(), reader.Minor())
	}

	// Patch versions can differ, so we're compatible
	return nil
}
