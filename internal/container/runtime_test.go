// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecutor records calls and returns configured responses.
type mockExecutor struct {
	availableBins map[string]bool // binary -> whether LookPath succeeds
	runnableCmds  map[string]bool // "bin arg1 arg2" -> whether RunSilent succeeds
	runFunc       func(name string, args []string, stdout, stderr io.Writer) error
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.availableBins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (m *mockExecutor) RunSilent(name string, args ...string) error {
	key := name + " " + strings.Join(args, " ")
	if m.runnableCmds[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (m *mockExecutor) RunCaptured(_ context.Context, name string, args []string, stdout, stderr io.Writer) error {
	if m.runFunc != nil {
		return m.runFunc(name, args, stdout, stderr)
	}
	return nil
}

func TestDetectRuntime(t *testing.T) {
	tests := []struct {
		name     string
		exec     *mockExecutor
		wantName string
		wantErr  bool
	}{
		{
			name: "docker available",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true},
				runnableCmds:  map[string]bool{"docker info": true},
			},
			wantName: "docker",
		},
		{
			name: "podman fallback when docker missing",
			exec: &mockExecutor{
				availableBins: map[string]bool{"podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
		{
			name: "neither available",
			exec: &mockExecutor{
				availableBins: map[string]bool{},
				runnableCmds:  map[string]bool{},
			},
			wantErr: true,
		},
		{
			name: "docker on PATH but info fails, podman works",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true, "podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := detectRuntime(tt.exec)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "no container runtime available")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, rt.Name())
		})
	}
}

func TestImageExists(t *testing.T) {
	tests := []struct {
		name    string
		mkRT    func(*mockExecutor) Runtime
		cmds    map[string]bool
		wantErr bool
	}{
		{
			name: "docker image exists",
			mkRT: func(e *mockExecutor) Runtime { return newDockerRuntime(e) },
			cmds: map[string]bool{"docker image inspect freecad-cli:latest": true},
		},
		{
			name:    "docker image not found",
			mkRT:    func(e *mockExecutor) Runtime { return newDockerRuntime(e) },
			cmds:    map[string]bool{},
			wantErr: true,
		},
		{
			name: "podman image exists",
			mkRT: func(e *mockExecutor) Runtime { return newPodmanRuntime(e) },
			cmds: map[string]bool{"podman image exists freecad-cli:latest": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := tt.mkRT(&mockExecutor{runnableCmds: tt.cmds})
			err := rt.ImageExists("freecad-cli:latest")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "freecad-cli:latest")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRunArgs(t *testing.T) {
	opts := RunOptions{
		Args: []string{"freecadcmd", "/work/script.py"},
		Mounts: []Mount{
			{Source: "/tmp/script", Target: "/work", ReadOnly: true},
			{Source: "/home/me/parts", Target: "/input"},
		},
		Env: map[string]string{"B": "2", "A": "1"},
	}
	want := []string{
		"run", "--rm",
		"-v", "/tmp/script:/work:ro",
		"-v", "/home/me/parts:/input",
		"-e", "A=1",
		"-e", "B=2",
		"freecad-cli:latest",
		"freecadcmd", "/work/script.py",
	}
	assert.Equal(t, want, runArgs("freecad-cli:latest", opts))
}

func TestRun(t *testing.T) {
	t.Run("streams stdout and stderr", func(t *testing.T) {
		exec := &mockExecutor{runFunc: func(name string, args []string, stdout, stderr io.Writer) error {
			assert.Equal(t, "podman", name)
			assert.Equal(t, "run", args[0])
			_, _ = io.WriteString(stdout, "out")
			_, _ = io.WriteString(stderr, "err")
			return nil
		}}
		var out, errOut bytes.Buffer
		err := newPodmanRuntime(exec).Run(context.Background(), "img", RunOptions{}, &out, &errOut)
		require.NoError(t, err)
		assert.Equal(t, "out", out.String())
		assert.Equal(t, "err", errOut.String())
	})

	t.Run("failure is wrapped with runtime and image", func(t *testing.T) {
		cause := errors.New("exit status 139")
		exec := &mockExecutor{runFunc: func(string, []string, io.Writer, io.Writer) error { return cause }}
		err := newDockerRuntime(exec).Run(context.Background(), "img", RunOptions{}, io.Discard, io.Discard)
		require.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "running docker container img")
	})
}
