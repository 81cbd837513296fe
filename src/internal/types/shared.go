package types

// ServerConfig describes how to spawn a downstream language server.
type ServerConfig struct {
	Command               string      `yaml:"command" json:"command"`
	Args                  []string    `yaml:"args" json:"args"`
	WorkingDir            string      `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	InitializationOptions interface{} `yaml:"initialization_options,omitempty" json:"initialization_options,omitempty"`
}

// Position is a zero-based line/character pair in a document, mirroring
// the LSP coordinate model.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range is a half-open [Start, End) range between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// InjectionRegion is a slice of a host document written in another
// language. Ordinal is a stable per-language counter assigned the first
// time the region is detected; it keys the region's virtual document URI.
type InjectionRegion struct {
	Language  string
	StartLine uint32
	EndLine   uint32
	Ordinal   uint32
}
