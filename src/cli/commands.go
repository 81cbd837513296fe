// Package cli implements the lsp-bridge command line interface.
package cli

import (
	"fmt"
	"os/exec"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lsp-bridge/src/config"
	versionpkg "lsp-bridge/src/internal/version"
)

// CLI Constants
const (
	CmdServe    = "serve"
	CmdConfig   = "config"
	CmdStatus   = "status"
	CmdVersion  = "version"
	FlagConfig  = "config"
	FlagVerbose = "verbose"
	FlagOut     = "out"
)

// CLI Variables
var (
	configPath string
	verbose    bool
	outPath    string
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "lsp-bridge",
	Short: "LSP Bridge - forwards LSP requests for embedded language regions to real language servers",
	Long: `LSP Bridge manages a pool of downstream LSP servers over stdio and
bridges editor requests aimed at embedded language regions (code blocks
inside a host document) to the right server, translating positions and
URIs between the host document and per-region virtual documents.

QUICK START:
  lsp-bridge serve                         # Start the bridge with an operator console
  lsp-bridge config generate               # Write a default configuration file
  lsp-bridge status                        # Check which downstream servers are available

CONSOLE COMMANDS (inside 'serve'):
  hover <file> <lang> <start>:<end> <line>:<char>
  definition <file> <lang> <start>:<end> <line>:<char>
  completion <file> <lang> <start>:<end> <line>:<char>
  references <file> <lang> <start>:<end> <line>:<char>
  rename <file> <lang> <start>:<end> <line>:<char> <new-name>
  symbols <file> <lang> <start>:<end>
  fold <file> <lang> <start>:<end>
  close <file>
  quit

Region bounds and positions are zero-based host document lines.

Use 'lsp-bridge <command> --help' for detailed command information.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command definitions
var (
	serveCmd = &cobra.Command{
		Use:   CmdServe,
		Short: "Run the bridge pool with an interactive operator console",
		Long: `Start the connection pool and read bridge commands line by line from
stdin. Each command targets an embedded region of a host file on disk;
the region content is sliced out of the file, synchronized to the
downstream server as a virtual document, and the response is printed in
host coordinates. EOF, 'quit' or an interrupt shuts every connection
down within the configured global shutdown timeout.`,
		RunE: runServeCmd,
	}

	configCmd = &cobra.Command{
		Use:   CmdConfig,
		Short: "Manage bridge configuration",
	}

	configGenerateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Write a default configuration file",
		RunE:  runConfigGenerateCmd,
	}

	configValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file against the timeout bounds",
		RunE:  runConfigValidateCmd,
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE:  runConfigShowCmd,
	}

	statusCmd = &cobra.Command{
		Use:   CmdStatus,
		Short: "Show which configured downstream servers are installed",
		RunE:  runStatusCmd,
	}

	versionCmd = &cobra.Command{
		Use:   CmdVersion,
		Short: "Show version information",
		RunE:  runVersionCmd,
	}
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional, defaults apply if omitted)")
	statusCmd.Flags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional)")
	versionCmd.Flags().BoolVarP(&verbose, FlagVerbose, "v", false, "Show detailed version information")

	configGenerateCmd.Flags().StringVarP(&outPath, FlagOut, "o", "lsp-bridge.yaml", "Output path for the generated file")
	configValidateCmd.Flags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path")
	configShowCmd.Flags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional)")

	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.GetDefaultConfig(), nil
}

func runConfigGenerateCmd(cmd *cobra.Command, args []string) error {
	if err := config.GenerateDefaultConfig(outPath); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", outPath)
	return nil
}

func runConfigValidateCmd(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", configPath)
	return nil
}

func runConfigShowCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	languages := make([]string, 0, len(cfg.Servers))
	for language := range cfg.Servers {
		languages = append(languages, language)
	}
	sort.Strings(languages)

	fmt.Println("Configured downstream servers:")
	for _, language := range languages {
		serverCfg := cfg.Servers[language]
		if _, err := exec.LookPath(serverCfg.Command); err != nil {
			fmt.Printf("  %-12s %s (not found in PATH)\n", language, serverCfg.Command)
			continue
		}
		fmt.Printf("  %-12s %s (available)\n", language, serverCfg.Command)
	}
	return nil
}

func runVersionCmd(cmd *cobra.Command, args []string) error {
	if verbose {
		fmt.Println(versionpkg.GetFullVersionInfo())
	} else {
		fmt.Println(versionpkg.GetVersion())
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
