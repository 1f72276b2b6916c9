package version

// ModuleVersion is the current version of the ingest engine.
// This value is set at build time using ldflags:
// -ldflags "-X github.com/rxtech-lab/tickbar/internal/version.ModuleVersion=1.2.3"
// The default value "main" indicates a development build.
var ModuleVersion = "1.1.0"

// SchemaVersion identifies the bar file schema. Bumped whenever the
// 18-column layout changes; downstream modules refuse manifests whose
// schema version is incompatible with theirs.
const SchemaVersion = "1.0.0"

// BarRulesID names the bar construction rules baked into this release:
// epoch-aligned left-closed/right-open time windows and fixed-N tick
// blocks with the trailing partial block dropped.
const BarRulesID = "time_epoch_left_closed__tick_fixed_n"

// GetModuleVersion returns the current engine version.
func GetModuleVersion() string {
	return ModuleVersion
}
