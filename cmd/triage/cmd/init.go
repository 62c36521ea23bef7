package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize triage configuration in the current directory",
	Long: `Write a default .triage.yaml and create the state directory.
An existing configuration is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	configPath := filepath.Join(cwd, ".triage.yaml")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration already exists, use --force to overwrite")
	}

	if err := config.AtomicWrite(configPath, []byte(config.DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	stateDir := filepath.Join(cwd, filepath.Dir(config.DefaultStatePath))
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", stateDir, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Initialized triage configuration in", cwd)
	fmt.Fprintln(out, "Configuration file: .triage.yaml")
	fmt.Fprintln(out, "Run 'triage serve' to start the API")
	return nil
}
