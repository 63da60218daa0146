package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/mutation-gate/internal/config"
	"github.com/danielpatrickdp/mutation-gate/internal/evidence"
	"github.com/danielpatrickdp/mutation-gate/internal/evolution"
)

var errFailed = errors.New("one or more upgrades failed evidence checks")

var (
	policyPath   string
	upgradesPath string
	manifestDir  string
	logFormat    string
	logLevel     string
)

var (
	rootCmd = &cobra.Command{
		Use:           "evolve",
		Short:         "Daily evolution gate for upgrade descriptors",
		Long:          `Checks each upgrade descriptor's evidence bundle and test/harness coverage against the policy and writes the day's manifest.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(config.NewLogger(os.Stderr, logLevel, logFormat))
		},
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Check every descriptor and write the manifest",
		RunE:  runEvolution,
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Parse the policy and descriptors without running checks",
		RunE:  runValidate,
	}
)

// #region main
func main() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "gate.yaml", "policy file with the evidence registry and coverage index")
	rootCmd.PersistentFlags().StringVar(&upgradesPath, "upgrades", "upgrades.yaml", "upgrade descriptor file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (json or text)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")
	runCmd.Flags().StringVar(&manifestDir, "out", "manifests", "directory the manifest is written to")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			slog.Error("evolve failed", "err", err)
		}
		os.Exit(1)
	}
}

// #endregion main

// #region commands
func load() (config.Loaded, []evolution.Descriptor, error) {
	loaded, err := config.Load(policyPath)
	if err != nil {
		return config.Loaded{}, nil, err
	}
	descs, err := evolution.LoadDescriptors(upgradesPath)
	if err != nil {
		return config.Loaded{}, nil, err
	}
	return loaded, descs, nil
}

func runValidate(cmd *cobra.Command, _ []string) error {
	loaded, descs, err := load()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "policy %s ok (digest %s), %d upgrades parsed\n", policyPath, loaded.Digest[:12], len(descs))
	return nil
}

func runEvolution(cmd *cobra.Command, _ []string) error {
	loaded, descs, err := load()
	if err != nil {
		return err
	}
	h := evidence.NewHarness(loaded.Engine.RequiredTags, loaded.Engine.UnitTests, loaded.Engine.FormalHarnesses)
	m := evolution.Build(h, descs, time.Now(), loaded.Digest)

	out := cmd.OutOrStdout()
	for _, e := range m.Entries {
		status := "PASS"
		if !e.Report.Passed {
			status = "FAIL"
			slog.Warn("upgrade rejected", "upgrade", e.Descriptor.ID, "domain", e.Descriptor.Domain, "code", e.Code)
		}
		fmt.Fprintf(out, "%-4s  %-24s  %-18s  %s\n", status, e.Descriptor.ID, e.Descriptor.Domain, e.Report.Reason)
	}

	path := filepath.Join(manifestDir, fmt.Sprintf("evolution-%s.json", m.Epoch))
	if err := evolution.WriteManifest(path, m); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d passed, %d failed; manifest %s\n", m.Passed, m.Failed, path)

	if !m.OK() {
		return errFailed
	}
	return nil
}

// #endregion commands
