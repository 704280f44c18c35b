// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

// MergeDelta applies a partial update on top of a base payload. Delta fields
// overwrite, absent fields retain the prior value. Nested object fields
// (social-media sub-records and the like) merge key-by-key instead of being
// replaced wholesale; an explicit nil in the delta clears the field.
//
// Neither input is mutated; the result is a fresh payload.
func MergeDelta(base, delta Payload) Payload {
	if base == nil && delta == nil {
		return nil
	}
	merged := base.Clone()
	if merged == nil {
		merged = make(Payload, len(delta))
	}
	for k, dv := range delta {
		if dv == nil {
			merged[k] = nil
			continue
		}
		dm, deltaIsMap := dv.(map[string]any)
		if !deltaIsMap {
			merged[k] = cloneValue(dv)
			continue
		}
		bm, baseIsMap := merged[k].(map[string]any)
		if !baseIsMap {
			merged[k] = cloneValue(dv)
			continue
		}
		merged[k] = map[string]any(MergeDelta(Payload(bm), Payload(dm)))
	}
	return merged
}
