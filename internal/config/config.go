// Package config defines the pipeline configuration decoded from the JSON
// file passed to the loader binary, plus validation over it.
package config

// Pipeline is the root configuration for one warehouse load.
type Pipeline struct {
	Job       string      `json:"job"`
	Source    Source      `json:"source"`
	Parser    Parser      `json:"parser"`
	Transform []Transform `json:"transform"`
	Storage   Storage     `json:"storage"`
	Runtime   Runtime     `json:"runtime"`
	Export    *Export     `json:"export,omitempty"`
}

// Source describes where raw sales records come from.
type Source struct {
	Kind string      `json:"kind"` // "file"
	File *FileSource `json:"file,omitempty"`

	// Regions optionally points at the pipe-delimited region reference file
	// (REGION|STATE|CITY|ZIPCODE) used for customer zone derivation.
	Regions *FileSource `json:"regions,omitempty"`
}

type FileSource struct {
	Path string `json:"path"`
}

// Parser selects and configures the record parser.
type Parser struct {
	Kind    string  `json:"kind"` // "csv"
	Options Options `json:"options"`
}

// Transform is one stage of the coerce/validate chain.
type Transform struct {
	Kind    string  `json:"kind"` // "coerce" | "validate"
	Options Options `json:"options"`
}

// Storage selects the destination backend.
type Storage struct {
	Kind string `json:"kind"` // "postgres" | "sqlite" | "mssql"
	DB   DB     `json:"db"`
}

type DB struct {
	DSN string `json:"dsn"`
}

// Runtime controls load execution behavior.
type Runtime struct {
	BatchSize        int `json:"batch_size"`
	ChannelBuffer    int `json:"channel_buffer"`
	TransformWorkers int `json:"transform_workers"`
	LoaderWorkers    int `json:"loader_workers"`

	// ConflictPolicy decides what happens when a natural key reappears with
	// different attributes: "first_seen" keeps the registered row,
	// "reject" drops the conflicting record. Empty means first_seen.
	ConflictPolicy string `json:"conflict_policy"`

	// PrewarmDimensions reloads existing natural-key -> surrogate-key
	// mappings from the store before the run, so incremental loads keep
	// allocating keys above the persisted maximum.
	PrewarmDimensions bool `json:"prewarm_dimensions"`

	// DebugTimings enables per-batch timing logs during fact loading.
	DebugTimings bool `json:"debug_timings"`
}

// Export enables CSV snapshots of the loaded tables.
type Export struct {
	Dir string `json:"dir"`
}
