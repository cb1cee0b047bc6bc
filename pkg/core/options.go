package core

import "time"

// ScanOptions configures a single scan invocation. The zero value plus
// DefaultScanOptions covers the common case: scan the conventional manifest
// in the current directory without deep enrichment.
type ScanOptions struct {
	// ManifestPath is the path to the project manifest.
	ManifestPath string `yaml:"manifest_path" json:"manifest_path"`

	// LockfilePath overrides the lockfile location. Empty means the
	// conventional lockfile next to the manifest.
	LockfilePath string `yaml:"lockfile_path" json:"lockfile_path"`

	// DeepScan enables best-effort transitive enrichment from registry
	// metadata beyond what the lockfile records.
	DeepScan bool `yaml:"deep_scan" json:"deep_scan"`

	// DeepScanWorkers bounds concurrent per-node metadata fetches.
	DeepScanWorkers int `yaml:"deep_scan_workers" json:"deep_scan_workers"`

	// DeepScanTimeout is the per-node fetch deadline. A timed-out node
	// degrades to a warning in the report.
	DeepScanTimeout time.Duration `yaml:"deep_scan_timeout" json:"deep_scan_timeout"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose" json:"verbose"`
}

// Conventional file names for the Cargo ecosystem.
const (
	DefaultManifestName = "Cargo.toml"
	DefaultLockfileName = "Cargo.lock"
)

// DefaultScanOptions returns options with defaults applied.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		ManifestPath:    DefaultManifestName,
		DeepScanWorkers: 8,
		DeepScanTimeout: 10 * time.Second,
	}
}

// Normalize fills in zero-valued fields with defaults.
func (o *ScanOptions) Normalize() {
	if o.ManifestPath == "" {
		o.ManifestPath = DefaultManifestName
	}
	if o.DeepScanWorkers <= 0 {
		o.DeepScanWorkers = 8
	}
	if o.DeepScanTimeout <= 0 {
		o.DeepScanTimeout = 10 * time.Second
	}
}
