package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// canonicalize renders v (anything json.Unmarshal would produce: map[string]any,
// []any, string, json.Number, bool, nil) into a byte form with object keys
// sorted and arrays left in declared order, so structurally equal values
// always produce byte-identical output regardless of source map iteration
// order.
func canonicalize(v any) []byte {
	return appendCanonical(make([]byte, 0, 256), v)
}

func appendCanonical(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...)
	case bool:
		if t {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case string:
		b, _ := json.Marshal(t)
		return append(buf, b...)
	case json.Number:
		// Normalize so 1, 1.0 and 1e0 encode alike; an integer literal too
		// large for int64 keeps its text rather than losing precision.
		if n, err := t.Int64(); err == nil {
			return strconv.AppendInt(buf, n, 10)
		}
		if !strings.ContainsAny(string(t), ".eE") {
			return append(buf, string(t)...)
		}
		if f, err := t.Float64(); err == nil {
			b, _ := json.Marshal(f)
			return append(buf, b...)
		}
		return append(buf, string(t)...)
	case float64:
		b, _ := json.Marshal(t)
		return append(buf, b...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = appendCanonical(buf, t[k])
		}
		return append(buf, '}')
	case []any:
		buf = append(buf, '[')
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, e)
		}
		return append(buf, ']')
	default:
		// Fallback: round-trip through JSON so arbitrary struct/scalar
		// values (e.g. Checksum, ID) canonicalize the same way maps do.
		b, err := json.Marshal(t)
		if err != nil {
			panic(fmt.Sprintf("manifest: cannot canonicalize %T: %v", v, err))
		}
		decoded := decodeWithNumbers(b)
		return appendCanonical(buf, decoded)
	}
}

// decodeWithNumbers parses b using UseNumber so integers and floats keep
// their original textual form instead of collapsing through float64.
func decodeWithNumbers(b []byte) any {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		// Not a JSON value (e.g. already a bare Go string); hash it as-is.
		return string(b)
	}
	return v
}

// fingerprintValue hashes a canonical encoding of v and returns it as an ID.
func fingerprintValue(v any) ID {
	sum := sha256.Sum256(canonicalize(v))
	return ID("sha256:" + hex.EncodeToString(sum[:]))
}

// stageFingerprint implements SPEC_FULL §3: a stage's id is the hash of its
// module name, its options, its input ids in the order of inputNames (the
// loader passes them sorted by name), and the id of its pipeline's build
// environment.
func stageFingerprint(stageType string, options json.RawMessage, inputNames []string, inputIDs map[string]ID, buildEnvID ID) ID {
	var decodedOptions any
	if len(options) > 0 {
		decodedOptions = decodeWithNumbers(options)
	}

	orderedInputs := make([]any, 0, len(inputNames))
	for _, name := range inputNames {
		orderedInputs = append(orderedInputs, map[string]any{
			"name": name,
			"id":   string(inputIDs[name]),
		})
	}

	return fingerprintValue(map[string]any{
		"module":   stageType,
		"options":  decodedOptions,
		"inputs":   orderedInputs,
		"buildEnv": string(buildEnvID),
	})
}

// emptyPipelineID is the id assigned to a pipeline with zero stages, so two
// empty pipelines with the same build environment always collide onto the
// same object (SPEC_FULL §8 scenario 1).
func emptyPipelineID(buildEnvID ID) ID {
	return fingerprintValue(map[string]any{
		"module":   "",
		"options":  nil,
		"inputs":   []any{},
		"buildEnv": string(buildEnvID),
		"empty":    true,
	})
}
