// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// KernelName identifies the geometry kernel used for extraction.
type KernelName string

const (
	// KernelAuto uses FreeCAD when it can be discovered and the native kernel otherwise.
	KernelAuto    KernelName = "auto"
	KernelFreeCAD KernelName = "freecad"
	KernelNative  KernelName = "native"
)

// Launcher selects how the FreeCAD kernel process is started.
type Launcher string

const (
	LauncherLocal     Launcher = "local"
	LauncherContainer Launcher = "container"
)

// FreeCADConfig holds settings for the FreeCAD kernel.
type FreeCADConfig struct {
	// Launcher is "local" (freecadcmd on this host) or "container"
	// (freecadcmd inside Image under docker or podman).
	Launcher Launcher `json:"launcher" yaml:"launcher"`

	// Binary overrides discovery of the freecadcmd executable.
	Binary string `json:"binary,omitempty" yaml:"binary,omitempty"`

	// Image is the container image used by the container launcher.
	Image string `json:"image" yaml:"image"`
}

// Config holds all settings for a step-volume invocation.
type Config struct {
	// Kernel selects the geometry kernel: auto, freecad, or native.
	Kernel KernelName `json:"kernel" yaml:"kernel"`

	// KernelTimeout bounds a single kernel invocation. Zero means no limit.
	KernelTimeout time.Duration `json:"kernel_timeout" yaml:"kernel_timeout"`

	// StrictExit makes extraction errors exit non-zero. The default keeps
	// exit code 0 for every structured service response.
	StrictExit bool `json:"strict_exit" yaml:"strict_exit"`

	// LogLevel is the zap level for diagnostics written to stderr.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// HistoryDB is the SQLite database that records extraction runs.
	// Empty disables recording.
	HistoryDB string `json:"history_db,omitempty" yaml:"history_db,omitempty"`

	FreeCAD FreeCADConfig `json:"freecad" yaml:"freecad"`
}
