// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the step-volume CLI. It reads one
// STEP file, sums the volume of its solids, and prints a single JSON
// object on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/step-volume/internal/history"
	"github.com/pdiddy/step-volume/internal/kernel"
	"github.com/pdiddy/step-volume/internal/kernel/freecad"
	"github.com/pdiddy/step-volume/internal/kernel/native"
	"github.com/pdiddy/step-volume/internal/logging"
	"github.com/pdiddy/step-volume/internal/volume"
	"github.com/pdiddy/step-volume/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

const programName = "step-volume"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitStrict = 2
)

// exitError carries a process exit code out of a cobra command. Its
// output has already been written by the time it is returned.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// kernelFactory builds the geometry kernel for a configuration.
type kernelFactory func(ctx context.Context, cfg types.Config, logger *zap.Logger) (kernel.Kernel, error)

// app holds the per-invocation state shared by the commands.
type app struct {
	v         *viper.Viper
	stdout    io.Writer
	stderr    io.Writer
	newKernel kernelFactory
}

func newApp(stdout, stderr io.Writer, newKernel kernelFactory) *app {
	return &app{v: viper.New(), stdout: stdout, stderr: stderr, newKernel: newKernel}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   programName + " <step_file_path>",
		Short: "Report the total solid volume of a STEP file",
		Long: `step-volume opens a STEP (ISO 10303-21) file, sums the volume of every
solid body it contains, and prints the result in cubic centimetres as a
single JSON object on stdout:

  {"volume":1,"units":"cm3","object_count":1,"success":true}

Failures are reported as {"error":"..."} on stdout. Diagnostics go to stderr.

The geometry kernel is FreeCAD when it can be found (locally or in a
container image) and a built-in planar B-rep kernel otherwise.`,
		Args:          cobra.ArbitraryArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.runExtract,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		if cmd != cmd.Root() {
			return err
		}
		a.writeJSON(volume.UsageError(programName).Payload())
		return &exitError{code: exitFailed}
	})

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default: ./step-volume.yaml or ~/.config/step-volume/step-volume.yaml)")
	pf.String("kernel", string(types.KernelAuto), "geometry kernel: auto, freecad, or native")
	pf.Bool("strict-exit", false, "exit with status 2 when extraction fails")
	pf.String("log-level", logging.DefaultLevel, "stderr log level: debug, info, warn, or error")
	pf.String("history-db", "", "SQLite database that records each run (empty disables recording)")
	pf.String("freecad-launcher", string(types.LauncherLocal), "how FreeCAD is started: local or container")
	pf.String("freecad-binary", "", "path to freecadcmd (default: discovered)")
	pf.String("freecad-image", freecad.DefaultImage, "container image for the container launcher")
	pf.Duration("kernel-timeout", 0, "bound on a single kernel run, e.g. 2m (0 disables)")

	if err := bindFlags(a.v, pf, flagKeys); err != nil {
		panic(err)
	}

	root.AddCommand(a.historyCmd())
	return root
}

// flagKeys maps config keys to the persistent flags that set them.
var flagKeys = map[string]string{
	"kernel":           "kernel",
	"strict_exit":      "strict-exit",
	"log_level":        "log-level",
	"history_db":       "history-db",
	"freecad.launcher": "freecad-launcher",
	"freecad.binary":   "freecad-binary",
	"freecad.image":    "freecad-image",
	"kernel_timeout":   "kernel-timeout",
}

// bindFlags binds each config key to its flag so that an explicit flag
// overrides the environment and the config file.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("binding --%s to %s: %w", name, key, err)
		}
	}
	return nil
}

// loadConfig reads the config file, environment, and flags into a Config.
func (a *app) loadConfig(cmd *cobra.Command) (types.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName(programName)
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".config", programName))
		}
	}

	a.v.SetEnvPrefix("STEP_VOLUME")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := types.Config{
		Kernel:        types.KernelName(strings.ToLower(a.v.GetString("kernel"))),
		KernelTimeout: a.v.GetDuration("kernel_timeout"),
		StrictExit:    a.v.GetBool("strict_exit"),
		LogLevel:      a.v.GetString("log_level"),
		HistoryDB:     a.v.GetString("history_db"),
		FreeCAD: types.FreeCADConfig{
			Launcher: types.Launcher(strings.ToLower(a.v.GetString("freecad.launcher"))),
			Binary:   a.v.GetString("freecad.binary"),
			Image:    a.v.GetString("freecad.image"),
		},
	}
	switch cfg.Kernel {
	case types.KernelAuto, types.KernelFreeCAD, types.KernelNative:
	default:
		return types.Config{}, fmt.Errorf("unknown kernel %q: want %s, %s, or %s",
			cfg.Kernel, types.KernelAuto, types.KernelFreeCAD, types.KernelNative)
	}
	if cfg.KernelTimeout < 0 {
		return types.Config{}, fmt.Errorf("kernel_timeout must not be negative, got %s", cfg.KernelTimeout)
	}
	return cfg, nil
}

func (a *app) runExtract(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		a.writeJSON(volume.UsageError(programName).Payload())
		return &exitError{code: exitFailed}
	}
	path := args[0]

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		a.writeJSON(types.ErrorPayload{Error: err.Error()})
		return &exitError{code: exitFailed}
	}
	logger, err := logging.New(cfg.LogLevel, a.stderr)
	if err != nil {
		a.writeJSON(types.ErrorPayload{Error: err.Error()})
		return &exitError{code: exitFailed}
	}
	defer func() { _ = logger.Sync() }()

	if _, err := os.Stat(path); err != nil {
		logger.Debug("input not accessible", zap.String("path", path), zap.Error(err))
		a.writeJSON(volume.FileNotFound(path).Payload())
		return &exitError{code: exitFailed}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	k, err := a.newKernel(ctx, cfg, logger)
	if err != nil {
		a.writeJSON(types.ErrorPayload{Error: err.Error()})
		return &exitError{code: exitFailed}
	}
	logger.Debug("kernel selected", zap.String("kernel", k.Name()))

	svc := volume.NewService(k, volume.WithLogger(logger), volume.WithTimeout(cfg.KernelTimeout))
	result, xerr := svc.Extract(ctx, path)
	if xerr != nil {
		a.writeJSON(xerr.Payload())
	} else {
		a.writeJSON(result)
	}

	if cfg.HistoryDB != "" {
		a.record(ctx, cfg.HistoryDB, logger, path, k.Name(), result, xerr)
	}

	if xerr != nil && cfg.StrictExit {
		return &exitError{code: exitStrict}
	}
	return nil
}

// record appends the outcome to the history database. Failures are
// logged and never change the command's output or exit code.
func (a *app) record(ctx context.Context, dbPath string, logger *zap.Logger, path, kernelName string, result types.ExtractionResult, xerr *volume.ExtractionError) {
	rec := history.Record{Path: path, Kernel: kernelName, Outcome: history.OutcomeSuccess}
	if abs, err := filepath.Abs(path); err == nil {
		rec.Path = abs
	}
	if digest, err := history.FileDigest(path); err == nil {
		rec.SHA256 = digest
	} else {
		logger.Debug("hashing input", zap.Error(err))
	}
	if xerr != nil {
		rec.Outcome = string(xerr.Kind)
		rec.Error = xerr.Message
	} else {
		rec.Volume = result.Volume
		rec.ObjectCount = result.ObjectCount
	}

	store, err := history.Open(dbPath)
	if err != nil {
		logger.Warn("history unavailable", zap.String("db", dbPath), zap.Error(err))
		return
	}
	defer store.Close()
	if _, err := store.Add(ctx, rec); err != nil {
		logger.Warn("recording history", zap.String("db", dbPath), zap.Error(err))
	}
}

// writeJSON prints v as one line of JSON on stdout.
func (a *app) writeJSON(v any) {
	enc := json.NewEncoder(a.stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(a.stderr, "writing result: %v\n", err)
	}
}

// newKernel selects the geometry kernel named by cfg.Kernel. In auto mode
// FreeCAD is preferred and the native kernel is the fallback.
func newKernel(ctx context.Context, cfg types.Config, logger *zap.Logger) (kernel.Kernel, error) {
	switch cfg.Kernel {
	case types.KernelNative:
		return native.New(logger), nil
	case types.KernelFreeCAD:
		return freecad.New(cfg.FreeCAD, logger)
	default:
		fc, err := freecad.New(cfg.FreeCAD, logger)
		if err != nil {
			return nil, err
		}
		if err := fc.Available(ctx); err != nil {
			logger.Info("FreeCAD not available, using native kernel", zap.Error(err))
			return native.New(logger), nil
		}
		return fc, nil
	}
}

// execute runs root and maps its error to a process exit code.
func execute(root *cobra.Command, stderr io.Writer) int {
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitFailed
}

func main() {
	a := newApp(os.Stdout, os.Stderr, newKernel)
	os.Exit(execute(a.rootCmd(), os.Stderr))
}
