// Package registry holds the static language table: the file extension a
// downstream server expects for a language and the default server command.
package registry

import (
	"sort"

	"lsp-bridge/src/internal/types"
)

// LanguageInfo describes one bridgeable embedded language
type LanguageInfo struct {
	Name           string   // language identifier as used in injection queries
	Extension      string   // extension given to virtual documents
	DefaultCommand string   // default downstream server command
	DefaultArgs    []string // default arguments for the downstream server
}

// DefaultExtension is used for languages missing from the registry.
// Downstream servers are told the languageId explicitly in didOpen, so an
// unknown extension degrades gracefully.
const DefaultExtension = "txt"

var languageRegistry = map[string]LanguageInfo{
	"bash":       {Name: "bash", Extension: "sh", DefaultCommand: "bash-language-server", DefaultArgs: []string{"start"}},
	"c":          {Name: "c", Extension: "c", DefaultCommand: "clangd", DefaultArgs: []string{}},
	"cpp":        {Name: "cpp", Extension: "cpp", DefaultCommand: "clangd", DefaultArgs: []string{}},
	"css":        {Name: "css", Extension: "css", DefaultCommand: "vscode-css-language-server", DefaultArgs: []string{"--stdio"}},
	"go":         {Name: "go", Extension: "go", DefaultCommand: "gopls", DefaultArgs: []string{"serve"}},
	"html":       {Name: "html", Extension: "html", DefaultCommand: "vscode-html-language-server", DefaultArgs: []string{"--stdio"}},
	"java":       {Name: "java", Extension: "java", DefaultCommand: "jdtls", DefaultArgs: []string{}},
	"javascript": {Name: "javascript", Extension: "js", DefaultCommand: "typescript-language-server", DefaultArgs: []string{"--stdio"}},
	"json":       {Name: "json", Extension: "json", DefaultCommand: "vscode-json-language-server", DefaultArgs: []string{"--stdio"}},
	"lua":        {Name: "lua", Extension: "lua", DefaultCommand: "lua-language-server", DefaultArgs: []string{}},
	"python":     {Name: "python", Extension: "py", DefaultCommand: "pylsp", DefaultArgs: []string{}},
	"ruby":       {Name: "ruby", Extension: "rb", DefaultCommand: "solargraph", DefaultArgs: []string{"stdio"}},
	"rust":       {Name: "rust", Extension: "rs", DefaultCommand: "rust-analyzer", DefaultArgs: []string{}},
	"sh":         {Name: "sh", Extension: "sh", DefaultCommand: "bash-language-server", DefaultArgs: []string{"start"}},
	"toml":       {Name: "toml", Extension: "toml", DefaultCommand: "taplo", DefaultArgs: []string{"lsp", "stdio"}},
	"typescript": {Name: "typescript", Extension: "ts", DefaultCommand: "typescript-language-server", DefaultArgs: []string{"--stdio"}},
	"yaml":       {Name: "yaml", Extension: "yaml", DefaultCommand: "yaml-language-server", DefaultArgs: []string{"--stdio"}},
}

// GetLanguageInfo returns the registry entry for a language
func GetLanguageInfo(language string) (LanguageInfo, bool) {
	info, ok := languageRegistry[language]
	return info, ok
}

// ExtensionForLanguage returns the virtual document extension for a
// language, falling back to DefaultExtension for unknown languages.
func ExtensionForLanguage(language string) string {
	if info, ok := languageRegistry[language]; ok {
		return info.Extension
	}
	return DefaultExtension
}

// DefaultServerConfig returns the default spawn configuration for a
// language, or false if the registry has no server for it.
func DefaultServerConfig(language string) (types.ServerConfig, bool) {
	info, ok := languageRegistry[language]
	if !ok || info.DefaultCommand == "" {
		return types.ServerConfig{}, false
	}
	return types.ServerConfig{Command: info.DefaultCommand, Args: info.DefaultArgs}, true
}

// SupportedLanguages returns all registered language names, sorted.
func SupportedLanguages() []string {
	names := make([]string, 0, len(languageRegistry))
	for name := range languageRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
