// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ExecMode selects how the final command is handed control (§4.7 "Exec
// mode").
type ExecMode string

const (
	// ExecReplace replaces the current process image (the default). Where
	// process replacement is unavailable (non-Unix platforms), Launch falls
	// back to spawn-and-wait.
	ExecReplace ExecMode = "exec"
	// ExecSpawn runs the command as a child process and waits for it.
	ExecSpawn ExecMode = "spawn"
)

// LaunchOptions configures one call to Launch/Prepare.
type LaunchOptions struct {
	// ValidationTier gates integrity-check strictness (§7). Defaults to
	// ValidationStandard.
	ValidationTier ValidationTier
	// CacheRoot overrides the derived cache root (§4.7 CacheRoot()).
	CacheRoot string
	// WorkenvOverride overrides the workenv content root entirely
	// (FLAVOR_WORKENV).
	WorkenvOverride string
	// ForceFreshExtraction skips cache-validity checking entirely
	// (FLAVOR_WORKENV_CACHE=false).
	ForceFreshExtraction bool
	// ExecMode selects process-replace vs spawn-and-wait. Defaults to
	// ExecReplace on every platform; on non-Unix platforms Launch falls back
	// to spawn-and-wait.
	ExecMode ExecMode
	// LockTimeout overrides DefaultLockTimeout.
	LockTimeout int
}

func (o *LaunchOptions) applyDefaults() {
	if o.ValidationTier == "" {
		o.ValidationTier = ValidationStandard
	}
	if o.ExecMode == "" {
		o.ExecMode = ExecReplace
	}
}

// PreparedLaunch is a fully composed, not-yet-executed launch: the resolved
// command, its environment, and working directory, plus the workenv paths
// that produced it. Launch hands it to the OS itself (exec or spawn, per
// ExecMode); callers of Prepare can do their own handoff instead.
type PreparedLaunch struct {
	Paths       *WorkenvPaths
	ContentRoot string
	Command     []string
	Env         []string
	Dir         string
	ExecMode    ExecMode
	Warnings    []string
}

// Prepare runs the full orchestration of §4.7 up to but not including the
// final exec: derive workenv paths, sweep stale staging directories,
// ensure the package is extracted (taking or waiting on the lock as
// needed), and compose the final environment. It does not invoke the
// command.
func Prepare(ctx context.Context, pkgPath string, opts LaunchOptions) (*PreparedLaunch, error) {
	opts.applyDefaults()

	if ctx == nil {
		ctx = context.Background()
	}

	r, err := OpenReader(pkgPath, opts.ValidationTier)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	paths := resolveWorkenvPaths(pkgPath, opts)

	if err := CleanupStaleExtractions(paths); err != nil {
		return nil, wrapKind(KindExtractionFailed, err)
	}

	if opts.ForceFreshExtraction {
		if err := MarkExtractionIncomplete(paths); err != nil {
			return nil, wrapKind(KindExtractionFailed, err)
		}
	}

	result, err := EnsureExtracted(ctx, r, paths, opts.ValidationTier, time.Duration(opts.LockTimeout)*time.Second)
	if err != nil {
		return nil, err
	}

	meta := r.Metadata()

	env, err := composeLaunchEnv(meta, result.ContentRoot, pkgPath)
	if err != nil {
		return nil, wrapKind(KindLaunchFailed, err)
	}

	command, err := resolveCommand(meta.Execution.Command, result.ContentRoot, meta.Package.Name, meta.Package.Version)
	if err != nil {
		return nil, wrapKind(KindLaunchFailed, err)
	}

	execMode := opts.ExecMode
	if os.Getenv("FLAVOR_EXEC_MODE") == "spawn" {
		execMode = ExecSpawn
	}

	warnings := append(append([]string(nil), r.Warnings()...), result.Warnings...)

	return &PreparedLaunch{
		Paths:       paths,
		ContentRoot: result.ContentRoot,
		Command:     command,
		Env:         env,
		Dir:         result.ContentRoot,
		ExecMode:    execMode,
		Warnings:    warnings,
	}, nil
}

// LaunchResult is returned by Launch once the command has finished (spawn
// mode) or, under ExecReplace on Unix, is never returned at all because
// the process image is replaced.
type LaunchResult struct {
	ExitCode int
}

// Launch runs Prepare and then hands the prepared command to the OS:
// syscall.Exec on Unix under ExecReplace (replacing the current process —
// this call does not return on success), or spawn-and-wait otherwise.
func Launch(ctx context.Context, pkgPath string, opts LaunchOptions) (*LaunchResult, error) {
	prepared, err := Prepare(ctx, pkgPath, opts)
	if err != nil {
		return nil, err
	}

	return execPrepared(ctx, prepared)
}

func resolveWorkenvPaths(pkgPath string, opts LaunchOptions) *WorkenvPaths {
	cacheRoot := opts.CacheRoot
	if cacheRoot == "" {
		cacheRoot = CacheRoot()
	}

	paths := NewWorkenvPaths(cacheRoot, NameFromPackagePath(pkgPath))

	paths.ContentOverride = opts.WorkenvOverride
	if paths.ContentOverride == "" {
		paths.ContentOverride = os.Getenv("FLAVOR_WORKENV")
	}

	return paths
}

// composeLaunchEnv builds the final environment for exec (§4.7): base
// environment, runtime.env pipeline, workenv.env and execution.env
// overlays with placeholder substitution, and the FLAVOR_* identity
// variables with PATH prepended.
func composeLaunchEnv(meta *Metadata, contentRoot, pkgPath string) ([]string, error) {
	base := os.Environ()

	pipeline := EnvPipeline{}
	if meta.Runtime != nil {
		pipeline = meta.Runtime.Env
	}

	env, err := ComposeEnv(base, pipeline)
	if err != nil {
		return nil, fmt.Errorf("compose runtime env: %w", err)
	}

	envMap := envToMap(env)

	if _, ok := envMap["FLAVOR_CACHE"]; !ok {
		envMap["FLAVOR_CACHE"] = filepath.Dir(filepath.Dir(contentRoot))
	}

	if meta.Workenv != nil {
		applyEnvOverlay(envMap, meta.Workenv.Env, contentRoot, meta.Package.Name, meta.Package.Version)
	}
	applyEnvOverlay(envMap, meta.Execution.Env, contentRoot, meta.Package.Name, meta.Package.Version)

	envMap["FLAVOR_WORKENV"] = contentRoot
	envMap["FLAVOR_COMMAND_NAME"] = filepath.Base(pkgPath)
	envMap["FLAVOR_ORIGINAL_COMMAND"] = meta.Execution.Command

	binDir := filepath.Join(contentRoot, "bin")
	if existing, ok := envMap["PATH"]; ok && existing != "" {
		envMap["PATH"] = binDir + string(os.PathListSeparator) + existing
	} else {
		envMap["PATH"] = binDir
	}

	return envToSlice(envMap), nil
}

func applyEnvOverlay(env map[string]string, overlay map[string]string, workenv, packageName, version string) {
	for k, v := range overlay {
		env[k] = SubstitutePlaceholders(v, workenv, packageName, version)
	}
}

// resolveCommand splits execution.command into argv, substituting
// placeholders first.
func resolveCommand(command, workenv, packageName, version string) ([]string, error) {
	substituted := SubstitutePlaceholders(command, workenv, packageName, version)

	fields := strings.Fields(substituted)
	if len(fields) == 0 {
		return nil, fmt.Errorf("pspf: execution.command is empty")
	}

	return fields, nil
}

// execPrepared hands a PreparedLaunch to the OS. ExecReplace uses
// syscall.Exec on Unix (via os/exec's lookup plus a platform-specific
// replace helper); any other platform, or ExecSpawn, spawns and waits.
func execPrepared(ctx context.Context, p *PreparedLaunch) (*LaunchResult, error) {
	argv0 := p.Command[0]
	resolved, err := exec.LookPath(argv0)
	if err != nil {
		resolved = argv0
	}

	if p.ExecMode == ExecReplace {
		if err := replaceProcess(resolved, p.Command, p.Env); err == nil {
			// Unreachable on success: the process image is gone.
			return nil, nil
		}
		// Fall through to spawn-and-wait if exec-replace isn't available.
	}

	cmd := exec.CommandContext(ctx, resolved, p.Command[1:]...)
	cmd.Dir = p.Dir
	cmd.Env = p.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if !isShebangScript(resolved) {
		// argv[0] is spoofed to the basename of p.Dir (the workenv content
		// root, not the package file name) for binaries; left alone for
		// scripts since some shebang handlers reject it (§4.7).
		cmd.Args[0] = filepath.Base(p.Dir)
	}

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, wrapKind(KindLaunchFailed, fmt.Errorf("run command: %w", runErr))
		}
	}

	return &LaunchResult{ExitCode: exitCode}, nil
}

func isShebangScript(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var buf [2]byte
	if _, err := f.Read(buf[:]); err != nil {
		return false
	}

	return buf[0] == '#' && buf[1] == '!'
}
