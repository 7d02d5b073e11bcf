// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package freecad

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pdiddy/step-volume/internal/container"
	"github.com/pdiddy/step-volume/internal/kernel"
)

// Environment variables read by the helper script.
const (
	envInput    = "STEP_VOLUME_INPUT"
	envDocument = "STEP_VOLUME_DOCUMENT"
	envLib      = "STEP_VOLUME_FREECAD_LIB"
)

// invocation is one helper run.
type invocation struct {
	scriptPath string
	inputPath  string
	document   string
}

// launcher starts the helper script inside FreeCAD.
type launcher interface {
	Name() string
	Available(ctx context.Context) error
	Run(ctx context.Context, inv invocation, stdout, stderr io.Writer) error
}

// executor abstracts host command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	Exists(path string) bool
	Run(ctx context.Context, name string, args, env []string, stdout, stderr io.Writer) error
}

type osExecutor struct{}

func (o *osExecutor) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (o *osExecutor) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (o *osExecutor) Run(ctx context.Context, name string, args, env []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// cmdNames are FreeCAD console executables probed on PATH.
var cmdNames = []string{"freecadcmd", "FreeCADCmd", "freecad-cmd"}

// cmdPaths are install locations probed when nothing is on PATH.
var cmdPaths = []string{
	"/usr/lib/freecad/bin/freecadcmd",
	"/usr/lib/freecad-daily/bin/freecadcmd",
	"/Applications/FreeCAD.app/Contents/Resources/bin/freecadcmd",
	"/Applications/FreeCAD.app/Contents/MacOS/FreeCADCmd",
}

// libDirs hold the FreeCAD Python module for use from a plain python3.
var libDirs = []string{
	"/usr/lib/freecad-python3/lib",
	"/usr/lib/freecad/lib",
	"/Applications/FreeCAD.app/Contents/lib",
}

// importCheck verifies that python3 can load FreeCAD from the library
// directory named by envLib.
const importCheck = "import os, sys; sys.path.append(os.environ['" + envLib + "']); import FreeCAD"

// localLauncher runs the helper with a FreeCAD installed on this host,
// either through its console executable or through python3 with the
// FreeCAD library directory on sys.path.
type localLauncher struct {
	binary string // configured override
	exec   executor

	resolved string
	libDir   string
}

func (l *localLauncher) Name() string { return "local" }

func (l *localLauncher) Available(ctx context.Context) error {
	if l.resolved != "" {
		return nil
	}
	if l.binary != "" {
		path, err := l.exec.LookPath(l.binary)
		if err != nil {
			return fmt.Errorf("%w: configured FreeCAD binary %s: %v", kernel.ErrUnavailable, l.binary, err)
		}
		l.resolved = path
		return nil
	}
	for _, name := range cmdNames {
		if path, err := l.exec.LookPath(name); err == nil {
			l.resolved = path
			return nil
		}
	}
	for _, path := range cmdPaths {
		if l.exec.Exists(path) {
			l.resolved = path
			return nil
		}
	}
	var importErr error
	if python, err := l.exec.LookPath("python3"); err == nil {
		for _, dir := range libDirs {
			if !l.exec.Exists(dir) {
				continue
			}
			var stderr bytes.Buffer
			env := []string{envLib + "=" + dir}
			if err := l.exec.Run(ctx, python, []string{"-c", importCheck}, env, io.Discard, &stderr); err != nil {
				importErr = fmt.Errorf("%w: FreeCAD module in %s cannot be imported: %v: %s",
					kernel.ErrUnavailable, dir, err, lastLine(stderr.String()))
				continue
			}
			l.resolved = python
			l.libDir = dir
			return nil
		}
	}
	if importErr != nil {
		return importErr
	}
	return fmt.Errorf("%w: FreeCAD not installed or not in PATH", kernel.ErrUnavailable)
}

func (l *localLauncher) Run(ctx context.Context, inv invocation, stdout, stderr io.Writer) error {
	if err := l.Available(ctx); err != nil {
		return err
	}
	env := []string{envInput + "=" + inv.inputPath, envDocument + "=" + inv.document}
	if l.libDir != "" {
		env = append(env, envLib+"="+l.libDir)
	}
	if err := l.exec.Run(ctx, l.resolved, []string{inv.scriptPath}, env, stdout, stderr); err != nil {
		return fmt.Errorf("running %s: %w", filepath.Base(l.resolved), err)
	}
	return nil
}

// Mount points inside the container.
const (
	containerScriptDir = "/step-volume/script"
	containerInputDir  = "/step-volume/input"
)

// containerLauncher runs the helper with freecadcmd inside a container image.
type containerLauncher struct {
	image  string
	detect func() (container.Runtime, error)

	rt container.Runtime
}

func (c *containerLauncher) Name() string { return "container" }

func (c *containerLauncher) Available(ctx context.Context) error {
	if c.rt != nil {
		return nil
	}
	rt, err := c.detect()
	if err != nil {
		return fmt.Errorf("%w: %v", kernel.ErrUnavailable, err)
	}
	if err := rt.ImageExists(c.image); err != nil {
		return fmt.Errorf("%w: %v", kernel.ErrUnavailable, err)
	}
	c.rt = rt
	return nil
}

func (c *containerLauncher) Run(ctx context.Context, inv invocation, stdout, stderr io.Writer) error {
	if err := c.Available(ctx); err != nil {
		return err
	}
	input, err := filepath.Abs(inv.inputPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", inv.inputPath, err)
	}
	opts := container.RunOptions{
		Args: []string{"freecadcmd", containerScriptDir + "/" + filepath.Base(inv.scriptPath)},
		Mounts: []container.Mount{
			{Source: filepath.Dir(inv.scriptPath), Target: containerScriptDir, ReadOnly: true},
			{Source: filepath.Dir(input), Target: containerInputDir, ReadOnly: true},
		},
		Env: map[string]string{
			envInput:    containerInputDir + "/" + filepath.Base(input),
			envDocument: inv.document,
		},
	}
	return c.rt.Run(ctx, c.image, opts, stdout, stderr)
}
