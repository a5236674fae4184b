// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/woozymasta/pathrules"
)

// windowsCriticalEnvVars are automatically unioned into the preserve-set on
// Windows regardless of the manifest's pass patterns (§4.7).
var windowsCriticalEnvVars = []string{"SYSTEMROOT", "WINDIR", "TEMP", "TMP", "PATHEXT", "COMSPEC"}

// ComposeEnv builds the final environment for exec, applying the
// pass/unset/map/set pipeline in order over base (the inherited
// environment, as a "KEY=VALUE" slice), per §4.7:
//
//  1. build a preserve-set from pass patterns (exact + glob; Windows
//     auto-unions the critical variables above)
//  2. process unset, never removing preserved keys
//  3. process map (rename old->new), preserving preserved keys
//  4. process set (literal assignments)
//  5. verify every exact-match pass pattern is now present
func ComposeEnv(base []string, pipeline EnvPipeline) ([]string, error) {
	return composeEnvForGOOS(base, pipeline, runtime.GOOS)
}

// composeEnvForGOOS implements ComposeEnv parameterized on the target OS,
// so the Windows critical-variable union (§4.7 step 1) is exercisable from
// tests without depending on the host the test suite happens to run on.
func composeEnvForGOOS(base []string, pipeline EnvPipeline, goos string) ([]string, error) {
	env := envToMap(base)

	// passExact are the manifest's own exact-match pass patterns: only
	// these are required to be present at step 5. The Windows union below
	// widens the preserve-set for steps 2/3 but must not also widen the
	// required-present check, or a host simply missing e.g. COMSPEC would
	// spuriously fail a launch that never asked for it (§4.7 step 5).
	passExact, preserveGlobs := splitPatterns(pipeline.Pass)

	preserveExact := passExact
	if goos == "windows" {
		preserveExact = append(append([]string{}, passExact...), windowsCriticalEnvVars...)
	}

	preserved := make(map[string]bool, len(preserveExact))
	for _, key := range preserveExact {
		preserved[key] = true
	}
	for key := range env {
		if matchesAnyGlob(key, preserveGlobs) {
			preserved[key] = true
		}
	}

	applyUnset(env, pipeline.Unset, preserved)
	applyMap(env, pipeline.Map, preserved)

	for k, v := range pipeline.Set {
		env[k] = v
	}

	for _, key := range passExact {
		if _, ok := env[key]; !ok {
			return nil, fmt.Errorf("pspf: missing required environment variable %q", key)
		}
	}

	return envToSlice(env), nil
}

func applyUnset(env map[string]string, patterns []string, preserved map[string]bool) {
	exact, globs := splitPatterns(patterns)

	for _, key := range exact {
		if preserved[key] {
			continue
		}
		delete(env, key)
	}

	for key := range env {
		if preserved[key] {
			continue
		}
		if matchesAnyGlob(key, globs) {
			delete(env, key)
		}
	}
}

func applyMap(env map[string]string, rename map[string]string, preserved map[string]bool) {
	for oldKey, newKey := range rename {
		if preserved[oldKey] {
			continue
		}

		if v, ok := env[oldKey]; ok {
			env[newKey] = v
			delete(env, oldKey)
		}
	}
}

// splitPatterns separates exact-match patterns from glob patterns (those
// containing wildcard metacharacters or the literal "*").
func splitPatterns(patterns []string) (exact []string, globs []string) {
	for _, p := range patterns {
		if p == "*" || strings.ContainsAny(p, "*?[") {
			globs = append(globs, p)
		} else {
			exact = append(exact, p)
		}
	}

	return exact, globs
}

func matchesAnyGlob(key string, globs []string) bool {
	if len(globs) == 0 {
		return false
	}

	rules := make([]pathrules.Rule, 0, len(globs))
	for _, g := range globs {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: g})
	}

	matcher, err := pathrules.NewMatcher(rules, pathrules.MatcherOptions{DefaultAction: pathrules.ActionExclude})
	if err != nil {
		return false
	}

	return matcher.Included(key, false)
}

// SubstitutePlaceholders replaces {workenv}, {package_name}, and {version}
// tokens in value with the supplied values.
func SubstitutePlaceholders(value, workenv, packageName, version string) string {
	value = strings.ReplaceAll(value, "{workenv}", workenv)
	value = strings.ReplaceAll(value, "{package_name}", packageName)
	value = strings.ReplaceAll(value, "{version}", version)

	return value
}

func envToMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			m[kv[:idx]] = kv[idx+1:]
		}
	}

	return m
}

func envToSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}

	return out
}
