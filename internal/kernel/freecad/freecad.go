// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package freecad implements the geometry kernel on top of FreeCAD. Each
// import runs a bundled helper script inside FreeCAD (locally or in a
// container) that opens a named document, inserts the STEP file, reports
// every object's shape volume, and closes the document before exiting.
package freecad

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/step-volume/internal/container"
	"github.com/pdiddy/step-volume/internal/kernel"
	"github.com/pdiddy/step-volume/pkg/types"
)

// KernelName is the name reported by the FreeCAD kernel.
const KernelName = "freecad"

// DefaultImage is the container image used when none is configured.
const DefaultImage = "freecad-cli:latest"

const (
	scriptName   = "extract_volume.py"
	outputPrefix = "STEPVOLUME "
)

//go:embed extract_volume.py
var helperScript []byte

// Kernel drives FreeCAD through a launcher.
type Kernel struct {
	launcher launcher
	logger   *zap.Logger
}

// New creates a FreeCAD kernel for the configured launcher. A nil logger
// disables logging.
func New(cfg types.FreeCADConfig, logger *zap.Logger) (*Kernel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var l launcher
	switch cfg.Launcher {
	case types.LauncherLocal, "":
		l = &localLauncher{binary: cfg.Binary, exec: &osExecutor{}}
	case types.LauncherContainer:
		image := cfg.Image
		if image == "" {
			image = DefaultImage
		}
		l = &containerLauncher{image: image, detect: container.DetectRuntime}
	default:
		return nil, fmt.Errorf("unknown FreeCAD launcher %q: want %s or %s",
			cfg.Launcher, types.LauncherLocal, types.LauncherContainer)
	}
	return &Kernel{launcher: l, logger: logger.Named(KernelName)}, nil
}

func (k *Kernel) Name() string { return KernelName }

// Available locates FreeCAD for the configured launcher.
func (k *Kernel) Available(ctx context.Context) error {
	return k.launcher.Available(ctx)
}

// NewDocument prepares a document scope. The FreeCAD document itself lives
// only for the duration of the helper run started by Import.
func (k *Kernel) NewDocument(ctx context.Context, name string) (kernel.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &document{name: name, kernel: k}, nil
}

type document struct {
	name    string
	kernel  *Kernel
	objects []kernel.Object
	closed  bool
}

func (d *document) Name() string { return d.name }

func (d *document) Import(ctx context.Context, path string) error {
	if d.closed {
		return fmt.Errorf("document %q is closed", d.name)
	}

	dir, err := os.MkdirTemp("", "step-volume-*")
	if err != nil {
		return fmt.Errorf("creating helper directory: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, scriptName)
	if err := os.WriteFile(script, helperScript, 0o644); err != nil {
		return fmt.Errorf("writing helper script: %w", err)
	}

	var stdout, stderr bytes.Buffer
	inv := invocation{scriptPath: script, inputPath: path, document: d.name}
	runErr := d.kernel.launcher.Run(ctx, inv, &stdout, &stderr)

	rep, parseErr := parseReport(&stdout)
	switch {
	case rep.unavailable != "":
		return fmt.Errorf("%w: FreeCAD module could not be loaded: %s", kernel.ErrUnavailable, rep.unavailable)
	case rep.importError != "":
		return errors.New(rep.importError)
	case runErr != nil:
		if errors.Is(runErr, kernel.ErrUnavailable) {
			return runErr
		}
		if tail := lastLine(stderr.String()); tail != "" {
			return fmt.Errorf("%w: %s", runErr, tail)
		}
		return runErr
	case parseErr != nil:
		return parseErr
	case !rep.done:
		return errors.New("FreeCAD helper exited before reporting document objects")
	}

	d.objects = rep.objects
	d.kernel.logger.Debug("file imported",
		zap.String("document", d.name),
		zap.String("launcher", d.kernel.launcher.Name()),
		zap.Int("objects", len(rep.objects)),
	)
	return nil
}

func (d *document) Objects() []kernel.Object { return d.objects }

func (d *document) Close() error {
	d.closed = true
	d.objects = nil
	return nil
}

// helperLine is one record printed by the helper script.
type helperLine struct {
	Name        string  `json:"name"`
	HasShape    bool    `json:"has_shape"`
	HasVolume   bool    `json:"has_volume"`
	Volume      float64 `json:"volume"`
	Done        bool    `json:"done"`
	ImportError *string `json:"import_error"`
	Unavailable *string `json:"unavailable"`
}

type report struct {
	objects     []kernel.Object
	done        bool
	importError string
	unavailable string
}

// nonFiniteVolume matches the NaN and Infinity literals Python's json module
// emits for degenerate shapes.
var nonFiniteVolume = regexp.MustCompile(`"volume":\s*(?:NaN|-?Infinity)`)

// parseReport reads the prefixed lines of the helper output. FreeCAD's own
// console output is ignored.
func parseReport(r io.Reader) (report, error) {
	var rep report
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text, ok := strings.CutPrefix(sc.Text(), outputPrefix)
		if !ok {
			continue
		}
		nonFinite := nonFiniteVolume.MatchString(text)
		if nonFinite {
			text = nonFiniteVolume.ReplaceAllString(text, `"volume": null`)
		}
		var line helperLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return rep, fmt.Errorf("decoding helper output %q: %w", text, err)
		}
		switch {
		case line.Unavailable != nil:
			rep.unavailable = *line.Unavailable
		case line.ImportError != nil:
			rep.importError = *line.ImportError
		case line.Done:
			rep.done = true
		case !line.HasShape:
			rep.objects = append(rep.objects, &datum{label: line.Name})
		default:
			rep.objects = append(rep.objects, &part{
				label: line.Name,
				shape: &shape{mm3: line.Volume, defined: line.HasVolume && !nonFinite},
			})
		}
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("reading helper output: %w", err)
	}
	return rep, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// datum is a document object without a Shape property.
type datum struct {
	label string
}

func (o *datum) Label() string { return o.label }

// part is a document object with a Shape property.
type part struct {
	label string
	shape *shape
}

func (o *part) Label() string { return o.label }

func (o *part) Shape() (kernel.Shape, bool) { return o.shape, true }

type shape struct {
	mm3     float64
	defined bool
}

func (s *shape) Volume() (float64, bool) { return s.mm3, s.defined }
