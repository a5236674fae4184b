// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import "strings"

// FilterSlotsByPurpose keeps slots matching any of the given purposes. An
// empty want list returns slots unchanged.
func FilterSlotsByPurpose(slots []SlotMeta, want ...Purpose) []SlotMeta {
	if len(want) == 0 {
		return slots
	}

	out := make([]SlotMeta, 0, len(slots))
	for _, slot := range slots {
		purpose, err := ParsePurpose(slot.Purpose)
		if err != nil {
			continue
		}

		for _, w := range want {
			if purpose == w {
				out = append(out, slot)
				break
			}
		}
	}

	return out
}

// FilterSlotsByLifecycle keeps slots matching any of the given lifecycles.
// An empty want list returns slots unchanged.
func FilterSlotsByLifecycle(slots []SlotMeta, want ...Lifecycle) []SlotMeta {
	if len(want) == 0 {
		return slots
	}

	out := make([]SlotMeta, 0, len(slots))
	for _, slot := range slots {
		lifecycle, err := ParseLifecycle(slot.Lifecycle)
		if err != nil {
			continue
		}

		for _, w := range want {
			if lifecycle == w {
				out = append(out, slot)
				break
			}
		}
	}

	return out
}

// FilterSlotsByTargetPrefix keeps slots whose normalized target is under
// prefix (or equal to it).
func FilterSlotsByTargetPrefix(slots []SlotMeta, prefix string) []SlotMeta {
	prefix = NormalizePath(prefix)
	if prefix == "" {
		return slots
	}

	normalizedPrefix := prefix + "/"
	out := make([]SlotMeta, 0, len(slots))
	for _, slot := range slots {
		target := NormalizePath(slot.Target)
		if target == prefix || strings.HasPrefix(target, normalizedPrefix) {
			out = append(out, slot)
		}
	}

	return out
}

// PartitionByLifecycle splits slots into those matching any of the
// removeAfter lifecycles (e.g. init-only, single-use payloads that are
// pruned from the workenv after setup commands run) and the remainder.
func PartitionByLifecycle(slots []SlotMeta, removeAfter ...Lifecycle) (removed, kept []SlotMeta) {
	for _, slot := range slots {
		lifecycle, err := ParseLifecycle(slot.Lifecycle)
		if err != nil {
			kept = append(kept, slot)
			continue
		}

		matched := false
		for _, w := range removeAfter {
			if lifecycle == w {
				matched = true
				break
			}
		}

		if matched {
			removed = append(removed, slot)
		} else {
			kept = append(kept, slot)
		}
	}

	return removed, kept
}
