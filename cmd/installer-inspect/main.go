package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	installermetadata "github.com/deploymenttheory/go-installer-metadata"
	"github.com/deploymenttheory/go-installer-metadata/internal/config"
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
	"github.com/deploymenttheory/go-installer-metadata/internal/storage"
	"github.com/deploymenttheory/go-installer-metadata/internal/types"
)

var cfg config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "installer-inspect [files...]",
		Short: "Extract provenance metadata from installer files",
		Long: `Identifies the container format of installer files (.exe, .msi, .dmg,
.deb, .rpm) and extracts structured provenance metadata: product name,
version, publisher, architecture, signing identity, installer framework.`,
		Args:             cobra.MinimumNArgs(1),
		PersistentPreRun: setupLogging,
		RunE:             runInspect,
	}

	// Logging flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose debugging output")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("log-file", "", "log to file instead of stdout")

	// Behavior flags
	rootCmd.Flags().BoolP("info", "i", false, "classify only, without structural decoding")
	rootCmd.Flags().Bool("pretty", true, "indent JSON output")
	rootCmd.Flags().StringP("output", "o", "", "append reports to a JSON file")

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}

// setupLogging configures the logger based on command line flags
func setupLogging(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		logger.SetLevel(logger.LevelDebug)
		logger.Infof("Debug logging enabled")
	} else {
		logger.SetLevel(logger.LevelWarning)
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	if noColor {
		logger.DisableColors()
	}

	logFile, _ := cmd.Flags().GetString("log-file")
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logger.Errorf("Failed to open log file: %v", err)
		} else {
			logger.DisableColors()
			logger.Initialize(file, file, file, file)
			logger.Infof("Logging to file: %s", logFile)
		}
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg = parseConfig(cmd, args)

	var store storage.Storage
	if cfg.OutputFile != "" {
		var err error
		store, err = storage.New(cfg.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()
	}

	exitErr := false
	for _, path := range cfg.Paths {
		if err := inspectOne(path, store); err != nil {
			logger.Errorf("%s: %v", path, err)
			exitErr = true
		}
	}
	if exitErr {
		return fmt.Errorf("one or more files could not be read")
	}
	return nil
}

func parseConfig(cmd *cobra.Command, args []string) config.Config {
	infoOnly, _ := cmd.Flags().GetBool("info")
	pretty, _ := cmd.Flags().GetBool("pretty")
	output, _ := cmd.Flags().GetString("output")
	verbose, _ := cmd.Flags().GetBool("verbose")
	noColor, _ := cmd.Flags().GetBool("no-color")
	logFile, _ := cmd.Flags().GetString("log-file")

	return config.Config{
		Paths:      args,
		OutputFile: output,
		InfoOnly:   infoOnly,
		Pretty:     pretty,
		Verbose:    verbose,
		NoColor:    noColor,
		LogFile:    logFile,
	}
}

// inspectOne analyzes a single file, prints its result, and records a report
// when storage is configured. A read failure is the only hard error; analysis
// failures are reported as data.
func inspectOne(path string, store storage.Storage) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	infoJSON := installermetadata.GetFileInfo(data)
	result := infoJSON
	if !cfg.InfoOnly {
		result = installermetadata.AnalyzeFile(data)
	}
	printResult(path, result)

	if store == nil {
		return nil
	}

	sum := sha256.Sum256(data)
	report := types.Report{
		Path:          path,
		Filename:      filepath.Base(path),
		AnalyzedAt:    time.Now(),
		SHA256:        hex.EncodeToString(sum[:]),
		FileSizeBytes: int64(len(data)),
	}

	var info struct {
		Format        string `json:"Format"`
		FormatVersion string `json:"FormatVersion"`
	}
	if err := json.Unmarshal([]byte(infoJSON), &info); err == nil {
		report.Format = info.Format
		report.FormatVersion = info.FormatVersion
	}

	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(result), &metadata); err == nil {
		if errMsg, ok := metadata["error"].(string); ok && !cfg.InfoOnly {
			report.Error = errMsg
		} else if !cfg.InfoOnly {
			report.Metadata = metadata
		}
	}

	if err := store.Store(report); err != nil {
		logger.Warningf("failed to store report for %s: %v", path, err)
	}
	return nil
}

func printResult(path, result string) {
	if cfg.Pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(result), "", "  "); err == nil {
			result = buf.String()
		}
	}
	fmt.Printf("%s:\n%s\n", path, result)
}
