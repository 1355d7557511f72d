// Package taskio implements the tagged passthrough bag used for a task's
// input_data and output_data columns: a handful of well-known fields the
// queue and classifier reason about directly, plus an opaque map for
// whatever else a producer attaches.
package taskio

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Bag is the decoded form of a task's input_data or output_data column.
type Bag struct {
	Prompt         string   `json:"prompt,omitempty"`
	Context        string   `json:"context,omitempty"`
	ParentOutput   string   `json:"parent_output,omitempty"`
	PreviousErrors []string `json:"previous_errors,omitempty"`
	RetryHint      string   `json:"retry_hint,omitempty"`
	Result         string   `json:"result,omitempty"`

	// Extra holds producer-supplied keys this package doesn't model
	// directly. It round-trips through Marshal/Parse unchanged.
	Extra map[string]any `json:"-"`

	raw string
}

// Empty returns a Bag with no fields set, serialising to "{}".
func Empty() Bag { return Bag{} }

// Parse decodes raw JSON (as stored in the database) into a Bag. Empty
// input decodes to an empty Bag rather than an error.
func Parse(raw string) (Bag, error) {
	if raw == "" {
		return Bag{raw: "{}"}, nil
	}

	var b Bag
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return Bag{}, err
	}

	known := map[string]bool{
		"prompt": true, "context": true, "parent_output": true,
		"previous_errors": true, "retry_hint": true, "result": true,
	}
	extra := map[string]any{}
	result := gjson.Parse(raw)
	if result.IsObject() {
		result.ForEach(func(key, value gjson.Result) bool {
			k := key.String()
			if !known[k] {
				extra[k] = value.Value()
			}
			return true
		})
	}
	b.Extra = extra
	b.raw = raw
	return b, nil
}

// Marshal serialises the bag back to JSON, merging Extra keys alongside
// the well-known fields.
func (b Bag) Marshal() (string, error) {
	type alias Bag
	base, err := json.Marshal((alias)(b))
	if err != nil {
		return "", err
	}
	if len(b.Extra) == 0 {
		return string(base), nil
	}

	merged := map[string]any{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return "", err
	}
	for k, v := range b.Extra {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Get looks up an arbitrary passthrough key via gjson, without requiring
// a full unmarshal of the original raw payload.
func (b Bag) Get(path string) gjson.Result {
	return gjson.Get(b.raw, path)
}

// WithRetry returns a copy of b enriched for a retry attempt: the prior
// error is appended to PreviousErrors and context is extended with the
// classifier's enrichment text.
func (b Bag) WithRetry(priorError, enrichment, retryHint string) Bag {
	out := b
	out.PreviousErrors = append(append([]string{}, b.PreviousErrors...), priorError)
	if enrichment != "" {
		if out.Context != "" {
			out.Context = out.Context + "\n\n" + enrichment
		} else {
			out.Context = enrichment
		}
	}
	if retryHint != "" {
		out.RetryHint = retryHint
	}
	return out
}
