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
	"strconv"
	"strings"

	"github.com/woozymasta/pathrules"
)

// SetupContext carries the substitution values and base environment shared
// by every setup command in one run.
type SetupContext struct {
	Workenv     string
	PackageName string
	Version     string
	Cwd         string
	Env         []string
}

func (c *SetupContext) substitute(value string) string {
	return SubstitutePlaceholders(value, c.Workenv, c.PackageName, c.Version)
}

// RunSetupCommands interprets the declarative setup-command language in
// order (§4.8), aborting on the first failure.
func RunSetupCommands(ctx context.Context, commands []SetupCommand, sc *SetupContext) error {
	for i, cmd := range commands {
		if err := runOneSetupCommand(ctx, cmd, sc); err != nil {
			return wrapKind(KindSetupCommandFailed, fmt.Errorf("setup command %d (%s): %w", i, cmd.Type, err))
		}
	}

	return nil
}

func runOneSetupCommand(ctx context.Context, cmd SetupCommand, sc *SetupContext) error {
	switch cmd.Type {
	case "execute":
		return execCommandLine(ctx, sc.substitute(cmd.Command), sc)
	case "enumerate_and_execute":
		return enumerateAndExecute(ctx, cmd, sc)
	case "write_file":
		return writeSetupFile(cmd, sc)
	case "chmod":
		return chmodSetup(cmd, sc)
	default:
		return fmt.Errorf("pspf: unknown setup command type %q", cmd.Type)
	}
}

func execCommandLine(ctx context.Context, line string, sc *SetupContext) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return fmt.Errorf("pspf: empty command line")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = sc.Cwd
	cmd.Env = append(append([]string{}, sc.Env...), "FLAVOR_WORKENV="+sc.Workenv)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %w", ErrSetupCommandFailed, err)
	}

	return nil
}

func enumerateAndExecute(ctx context.Context, cmd SetupCommand, sc *SetupContext) error {
	if cmd.Enumerate == nil {
		return fmt.Errorf("pspf: enumerate_and_execute missing enumerate spec")
	}

	dir := sc.substitute(cmd.Enumerate.Path)
	pattern := sc.substitute(cmd.Enumerate.Pattern)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pspf: enumerate %s: %w", dir, err)
	}

	rules := []pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: pattern}}
	matcher, err := pathrules.NewMatcher(rules, pathrules.MatcherOptions{DefaultAction: pathrules.ActionExclude})
	if err != nil {
		return fmt.Errorf("pspf: compile enumerate pattern %q: %w", pattern, err)
	}

	for _, entry := range entries {
		if !matcher.Included(entry.Name(), false) {
			continue
		}

		line := sc.substitute(cmd.Command) + " " + filepath.Join(dir, entry.Name())
		if err := execCommandLine(ctx, line, sc); err != nil {
			return err
		}
	}

	return nil
}

func writeSetupFile(cmd SetupCommand, sc *SetupContext) error {
	target := filepath.Join(sc.Cwd, sc.substitute(cmd.Path))

	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("pspf: write_file mkdir: %w", err)
	}

	if err := os.WriteFile(target, []byte(sc.substitute(cmd.Content)), 0o600); err != nil {
		return fmt.Errorf("pspf: write_file: %w", err)
	}

	return nil
}

func chmodSetup(cmd SetupCommand, sc *SetupContext) error {
	mode, err := strconv.ParseUint(cmd.Mode, 8, 32)
	if err != nil {
		return fmt.Errorf("pspf: chmod mode %q: %w", cmd.Mode, err)
	}

	pattern := sc.substitute(cmd.Path)
	if !strings.Contains(filepath.Base(pattern), "*") {
		return os.Chmod(filepath.Join(sc.Cwd, pattern), os.FileMode(mode))
	}

	dir := filepath.Dir(filepath.Join(sc.Cwd, pattern))
	base := filepath.Base(pattern)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pspf: chmod glob: %w", err)
	}

	rules := []pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: base}}
	matcher, err := pathrules.NewMatcher(rules, pathrules.MatcherOptions{DefaultAction: pathrules.ActionExclude})
	if err != nil {
		return fmt.Errorf("pspf: compile chmod pattern %q: %w", base, err)
	}

	for _, entry := range entries {
		if matcher.Included(entry.Name(), false) {
			if err := os.Chmod(filepath.Join(dir, entry.Name()), os.FileMode(mode)); err != nil {
				return err
			}
		}
	}

	return nil
}
