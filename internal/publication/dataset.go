package publication

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DecodeDataset reads a publications artifact. The payload may be a JSON
// array or a single object, which is treated as a one-record dataset.
// Missing fields decode to their empty values.
func DecodeDataset(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if raw[0] == '{' {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode dataset object: %w", err)
		}
		return []Record{rec}, nil
	}
	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("decode dataset array: %w", err)
	}
	return recs, nil
}

// Encode writes v as a two-space indented JSON document without HTML escaping.
func Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
