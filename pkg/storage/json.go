// Copyright 2025 Certen Protocol

package storage

import "encoding/json"

// jsonArray marshals a string slice to JSON for storage in a JSONB
// column, never nil so the column always holds a valid JSON array.
func jsonArray(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func parseJSONArray(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	return items, nil
}
