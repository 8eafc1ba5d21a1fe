package payload

import (
	"encoding/json"
	"sort"
	"strings"
)

// Sanitization bounds for the per-call payload copy. The verbatim payload
// stays in the queue row; only the copy stored on the call row is shrunk.
const (
	maxDepth          = 5
	maxArrayLen       = 10
	maxTranscriptLen  = 500
	maxMetadataKeys   = 20
	metadataSampleLen = 5
)

const (
	truncatedSuffix   = "...[truncated]"
	binaryPlaceholder = "[binary data removed]"
	depthPlaceholder  = "[max depth exceeded]"
)

// binaryKeys have their values replaced wholesale.
var binaryKeys = map[string]bool{
	"binary_data": true,
	"audio_data":  true,
	"file_data":   true,
}

// Sanitize produces a size- and depth-bounded copy of a payload for storage
// next to its call row. The input bytes are never mutated.
func Sanitize(raw json.RawMessage) json.RawMessage {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	out, err := json.Marshal(sanitizeValue(doc, 1))
	if err != nil {
		return raw
	}
	return out
}

func sanitizeValue(v any, depth int) any {
	if depth > maxDepth {
		return depthPlaceholder
	}
	switch val := v.(type) {
	case map[string]any:
		return sanitizeObject(val, depth)
	case []any:
		return sanitizeArray(val, depth)
	default:
		return v
	}
}

func sanitizeObject(obj map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		switch {
		case binaryKeys[k]:
			out[k] = binaryPlaceholder
		case k == "metadata":
			out[k] = sanitizeMetadata(v, depth)
		case strings.Contains(k, "transcript"):
			out[k] = sanitizeTranscript(v, depth)
		default:
			out[k] = sanitizeValue(v, depth+1)
		}
	}
	return out
}

func sanitizeArray(arr []any, depth int) []any {
	if len(arr) <= maxArrayLen {
		out := make([]any, len(arr))
		for i, v := range arr {
			out[i] = sanitizeValue(v, depth+1)
		}
		return out
	}
	out := make([]any, 0, maxArrayLen+1)
	for _, v := range arr[:maxArrayLen] {
		out = append(out, sanitizeValue(v, depth+1))
	}
	out = append(out, map[string]any{
		"_truncated":      true,
		"original_length": len(arr),
	})
	return out
}

func sanitizeTranscript(v any, depth int) any {
	s, ok := v.(string)
	if !ok {
		return sanitizeValue(v, depth+1)
	}
	if len(s) <= maxTranscriptLen {
		return s
	}
	return s[:maxTranscriptLen] + truncatedSuffix
}

// sanitizeMetadata collapses oversized metadata objects into a summary of
// five sample keys and the total count.
func sanitizeMetadata(v any, depth int) any {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) <= maxMetadataKeys {
		return sanitizeValue(v, depth+1)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return map[string]any{
		"_summarized": true,
		"total_keys":  len(obj),
		"sample_keys": keys[:metadataSampleLen],
	}
}
