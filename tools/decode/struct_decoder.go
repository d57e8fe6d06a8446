package decode

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Object parses raw as a JSON object, keeping numbers as json.Number so
// 64-bit ids survive. A JSON null or a non-object is an error.
func Object(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("decode object: null")
	}
	return m, nil
}

// DecodeMap decodes m into a new T using the `json` tags of T. Keys whose
// value is null are treated as absent. The returned metadata lists which
// fields were set and which were not.
// Types are matched strictly: "7" does not decode into an int.
func DecodeMap[T any](m map[string]any) (*T, mapstructure.Metadata, error) {
	clean := make(map[string]any, len(m))
	for k, v := range m {
		if v != nil {
			clean[k] = v
		}
	}

	var (
		out T
		md  mapstructure.Metadata
	)
	decCfg := &mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   &out,
		Metadata: &md,
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, md, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(clean); err != nil {
		return nil, md, fmt.Errorf("decode struct: %w", err)
	}
	return &out, md, nil
}

// Native replaces every json.Number inside v (maps and slices included)
// with an int64 when it is integral and fits, otherwise a float64.
func Native(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = Native(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = Native(e)
		}
		return x
	}
	return v
}

// Missing returns, in order, the required keys that appear in unset
// (normally mapstructure.Metadata.Unset).
func Missing(unset []string, required ...string) []string {
	if len(required) == 0 || len(unset) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(unset))
	for _, k := range unset {
		set[k] = struct{}{}
	}
	var out []string
	for _, k := range required {
		if _, ok := set[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
