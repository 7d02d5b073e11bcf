// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pdiddy/step-volume/internal/history"
	"github.com/pdiddy/step-volume/internal/kernel"
	"github.com/pdiddy/step-volume/internal/kernel/native"
	"github.com/pdiddy/step-volume/internal/testutil/stepfixture"
	"github.com/pdiddy/step-volume/pkg/types"
)

// countingFactory builds native kernels and records how often it was asked.
type countingFactory struct {
	calls int
	cfgs  []types.Config
}

func (f *countingFactory) build(ctx context.Context, cfg types.Config, logger *zap.Logger) (kernel.Kernel, error) {
	f.calls++
	f.cfgs = append(f.cfgs, cfg)
	return native.New(logger), nil
}

type runResult struct {
	stdout string
	stderr string
	code   int
}

func run(t *testing.T, factory kernelFactory, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr, factory)
	root := a.rootCmd()
	root.SetArgs(args)
	code := execute(root, &stderr)
	return runResult{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func cubeFile(t *testing.T) string {
	t.Helper()
	b := stepfixture.New()
	c := b.MillimetreContext()
	b.ShapeRepresentation("cube", c, b.Box("cube", [3]float64{0, 0, 0}, [3]float64{10, 10, 10}))
	return b.Write(t, "cube.step")
}

func surfacesFile(t *testing.T) string {
	t.Helper()
	b := stepfixture.New()
	c := b.MillimetreContext()
	b.ShapeRepresentation("sheets", c, b.Sheet("sheet", 10), b.Placement("origin"))
	return b.Write(t, "sheets.step")
}

func TestUsage(t *testing.T) {
	const usage = `{"error":"Usage: step-volume <step_file_path>"}` + "\n"
	cube := cubeFile(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", nil},
		{"two arguments", []string{cube, cube}},
		{"three arguments", []string{"a", "b", "c"}},
		{"unknown flag", []string{"--bogus", cube}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &countingFactory{}
			got := run(t, f.build, tc.args...)
			assert.Equal(t, 1, got.code)
			assert.Equal(t, usage, got.stdout)
			assert.Zero(t, f.calls)
		})
	}
}

func TestMissingFile(t *testing.T) {
	f := &countingFactory{}
	got := run(t, f.build, filepath.Join(t.TempDir(), "absent.step"))

	assert.Equal(t, 1, got.code)
	assert.Equal(t, `{"error":"STEP file not found"}`+"\n", got.stdout)
	assert.Zero(t, f.calls, "kernel must not be touched for a missing file")
}

func TestExtractCube(t *testing.T) {
	f := &countingFactory{}
	got := run(t, f.build, cubeFile(t))

	require.Equal(t, 0, got.code, got.stderr)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, `{"volume":1,"units":"cm3","object_count":1,"success":true}`+"\n", got.stdout)
	assert.Equal(t, 1, strings.Count(got.stdout, "\n"))
}

func TestExtractionErrorExitCode(t *testing.T) {
	path := surfacesFile(t)
	const want = `{"error":"No valid solid objects found in STEP file"}` + "\n"

	t.Run("default exits zero", func(t *testing.T) {
		got := run(t, (&countingFactory{}).build, path)
		assert.Equal(t, 0, got.code)
		assert.Equal(t, want, got.stdout)
	})

	t.Run("strict exit", func(t *testing.T) {
		got := run(t, (&countingFactory{}).build, "--strict-exit", path)
		assert.Equal(t, 2, got.code)
		assert.Equal(t, want, got.stdout)
	})

	t.Run("strict exit from environment", func(t *testing.T) {
		t.Setenv("STEP_VOLUME_STRICT_EXIT", "true")
		got := run(t, (&countingFactory{}).build, path)
		assert.Equal(t, 2, got.code)
	})
}

func TestImportFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.step")
	require.NoError(t, os.WriteFile(path, []byte("this is not a STEP file"), 0o644))

	got := run(t, (&countingFactory{}).build, "--kernel", "native", path)
	assert.Equal(t, 0, got.code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(got.stdout), &payload))
	assert.True(t, strings.HasPrefix(payload["error"], "Failed to import STEP file: "), payload["error"])
	assert.Empty(t, native.OpenDocuments())
}

func TestCurvedSolidIsAnImportFailure(t *testing.T) {
	b := stepfixture.New()
	c := b.MillimetreContext()
	b.ShapeRepresentation("part", c,
		b.Box("cube", [3]float64{0, 0, 0}, [3]float64{10, 10, 10}),
		b.CylinderLike("curved"),
	)
	path := b.Write(t, "curved.step")

	got := run(t, (&countingFactory{}).build, "--kernel", "native", path)
	assert.Equal(t, 0, got.code)
	assert.NotContains(t, got.stdout, `"success"`)
	assert.Contains(t, got.stdout, `{"error":"Failed to import STEP file: solid #`)

	got = run(t, (&countingFactory{}).build, "--kernel", "native", "--strict-exit", path)
	assert.Equal(t, 2, got.code)
}

func TestBindFlags(t *testing.T) {
	a := newApp(&bytes.Buffer{}, &bytes.Buffer{}, nil)
	root := a.rootCmd()
	for key, name := range flagKeys {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "flag for %s", key)
	}

	err := bindFlags(viper.New(), root.PersistentFlags(), map[string]string{"kernel": "kernal"})
	assert.ErrorContains(t, err, "binding --kernal to kernel")
}

func TestKernelFactoryError(t *testing.T) {
	failing := func(ctx context.Context, cfg types.Config, logger *zap.Logger) (kernel.Kernel, error) {
		return nil, errors.New("unknown FreeCAD launcher \"ssh\"")
	}
	got := run(t, failing, cubeFile(t))
	assert.Equal(t, 1, got.code)
	assert.Equal(t, `{"error":"unknown FreeCAD launcher \"ssh\""}`+"\n", got.stdout)
}

func TestConfig(t *testing.T) {
	cube := cubeFile(t)

	t.Run("flags", func(t *testing.T) {
		f := &countingFactory{}
		got := run(t, f.build, "--kernel", "native", "--kernel-timeout", "90s",
			"--freecad-launcher", "container", "--freecad-image", "example/freecad:1", cube)
		require.Equal(t, 0, got.code, got.stderr)
		require.Len(t, f.cfgs, 1)
		cfg := f.cfgs[0]
		assert.Equal(t, types.KernelNative, cfg.Kernel)
		assert.Equal(t, "1m30s", cfg.KernelTimeout.String())
		assert.Equal(t, types.LauncherContainer, cfg.FreeCAD.Launcher)
		assert.Equal(t, "example/freecad:1", cfg.FreeCAD.Image)
	})

	t.Run("defaults", func(t *testing.T) {
		f := &countingFactory{}
		run(t, f.build, cube)
		require.Len(t, f.cfgs, 1)
		cfg := f.cfgs[0]
		assert.Equal(t, types.KernelAuto, cfg.Kernel)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, types.LauncherLocal, cfg.FreeCAD.Launcher)
		assert.Equal(t, "freecad-cli:latest", cfg.FreeCAD.Image)
		assert.False(t, cfg.StrictExit)
	})

	t.Run("config file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(file, []byte("kernel: native\nfreecad:\n  binary: /opt/freecad/bin/freecadcmd\n"), 0o644))
		f := &countingFactory{}
		got := run(t, f.build, "--config", file, cube)
		require.Equal(t, 0, got.code, got.stderr)
		require.Len(t, f.cfgs, 1)
		assert.Equal(t, types.KernelNative, f.cfgs[0].Kernel)
		assert.Equal(t, "/opt/freecad/bin/freecadcmd", f.cfgs[0].FreeCAD.Binary)
	})

	t.Run("unknown kernel", func(t *testing.T) {
		f := &countingFactory{}
		got := run(t, f.build, "--kernel", "opencascade", cube)
		assert.Equal(t, 1, got.code)
		assert.Contains(t, got.stdout, `unknown kernel \"opencascade\"`)
		assert.Zero(t, f.calls)
	})

	t.Run("unknown log level", func(t *testing.T) {
		got := run(t, (&countingFactory{}).build, "--log-level", "chatty", cube)
		assert.Equal(t, 1, got.code)
		assert.Contains(t, got.stdout, `"error"`)
	})
}

func TestDebugLogsGoToStderr(t *testing.T) {
	got := run(t, (&countingFactory{}).build, "--log-level", "debug", cubeFile(t))
	require.Equal(t, 0, got.code)
	assert.Equal(t, 1, strings.Count(got.stdout, "\n"))
	assert.Contains(t, got.stderr, "kernel selected")
}

func TestRepeatedRunsAreIdentical(t *testing.T) {
	path := cubeFile(t)
	first := run(t, (&countingFactory{}).build, path)
	second := run(t, (&countingFactory{}).build, path)
	assert.Equal(t, first.stdout, second.stdout)
	assert.Equal(t, first.code, second.code)
}

func TestHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs", "history.db")
	cube := cubeFile(t)
	sheets := surfacesFile(t)

	require.Equal(t, 0, run(t, (&countingFactory{}).build, "--history-db", db, cube).code)
	require.Equal(t, 0, run(t, (&countingFactory{}).build, "--history-db", db, sheets).code)

	t.Run("json", func(t *testing.T) {
		got := run(t, nil, "history", "--history-db", db)
		require.Equal(t, 0, got.code, got.stderr)
		var records []history.Record
		require.NoError(t, json.Unmarshal([]byte(got.stdout), &records))
		require.Len(t, records, 2)
		assert.Equal(t, "NoSolidGeometry", records[0].Outcome)
		assert.Equal(t, "No valid solid objects found in STEP file", records[0].Error)
		assert.Equal(t, history.OutcomeSuccess, records[1].Outcome)
		assert.InDelta(t, 1.0, records[1].Volume, 1e-9)
		assert.Equal(t, native.KernelName, records[1].Kernel)
		assert.Len(t, records[1].SHA256, 64)
	})

	t.Run("yaml with limit", func(t *testing.T) {
		got := run(t, nil, "history", "--history-db", db, "--format", "yaml", "--limit", "1")
		require.Equal(t, 0, got.code, got.stderr)
		assert.Equal(t, 1, strings.Count(got.stdout, "- id:"))
		assert.Contains(t, got.stdout, "outcome: NoSolidGeometry")
	})

	t.Run("not configured", func(t *testing.T) {
		got := run(t, nil, "history")
		assert.Equal(t, 1, got.code)
		assert.Contains(t, got.stderr, "no history database configured")
	})

	t.Run("bad format", func(t *testing.T) {
		got := run(t, nil, "history", "--history-db", db, "--format", "csv")
		assert.Equal(t, 1, got.code)
		assert.Contains(t, got.stderr, "--format must be")
	})
}

func TestHistoryFailureDoesNotChangeResult(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	got := run(t, (&countingFactory{}).build, "--history-db", filepath.Join(blocker, "history.db"), cubeFile(t))
	assert.Equal(t, 0, got.code)
	assert.Equal(t, `{"volume":1,"units":"cm3","object_count":1,"success":true}`+"\n", got.stdout)
	assert.Contains(t, got.stderr, "history unavailable")
}

func TestVersion(t *testing.T) {
	got := run(t, nil, "--version")
	assert.Equal(t, 0, got.code)
	assert.Contains(t, got.stdout, "step-volume version dev")
}

func TestNewKernel(t *testing.T) {
	ctx := context.Background()

	k, err := newKernel(ctx, types.Config{Kernel: types.KernelNative}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, native.KernelName, k.Name())

	k, err = newKernel(ctx, types.Config{Kernel: types.KernelFreeCAD}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "freecad", k.Name())

	_, err = newKernel(ctx, types.Config{
		Kernel:  types.KernelAuto,
		FreeCAD: types.FreeCADConfig{Launcher: "ssh"},
	}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown FreeCAD launcher")

	k, err = newKernel(ctx, types.Config{
		Kernel:  types.KernelAuto,
		FreeCAD: types.FreeCADConfig{Binary: filepath.Join(t.TempDir(), "no-such-freecadcmd")},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, native.KernelName, k.Name(), "auto falls back to the native kernel")
}
