package utils

import (
	"bytes"
	"encoding/json"
	"sort"
)

// ChangedTopLevelFields compares two JSON object snapshots key by key and returns the
// sorted names whose values differ, including keys present on only one side.
// A nil or empty prev means every key of next counts as changed.
func ChangedTopLevelFields(prev, next []byte) ([]string, error) {
	var before, after map[string]json.RawMessage
	if len(bytes.TrimSpace(prev)) > 0 {
		if err := json.Unmarshal(prev, &before); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(next, &after); err != nil {
		return nil, err
	}

	changed := make([]string, 0)
	for key, nv := range after {
		ov, ok := before[key]
		if !ok || !jsonEqual(ov, nv) {
			changed = append(changed, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// jsonEqual compares decoded values so that formatting and key order do not count as edits.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return bytes.Equal(a, b)
	}
	an, _ := json.Marshal(av)
	bn, _ := json.Marshal(bv)
	return bytes.Equal(an, bn)
}
