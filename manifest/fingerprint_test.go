package manifest

import (
	"encoding/json"
	"testing"

	"gotest.tools/v3/assert"
)

func TestFingerprintValue_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}
	assert.Equal(t, fingerprintValue(a), fingerprintValue(b))
}

func TestFingerprintValue_ArrayOrderMatters(t *testing.T) {
	a := map[string]any{"items": []any{"x", "y"}}
	b := map[string]any{"items": []any{"y", "x"}}
	assert.Assert(t, fingerprintValue(a) != fingerprintValue(b))
}

func TestStageFingerprint_StableAcrossOptionKeyOrder(t *testing.T) {
	opt1 := json.RawMessage(`{"a":1,"b":2}`)
	opt2 := json.RawMessage(`{"b":2,"a":1}`)
	names := []string{"in"}
	ids := map[string]ID{"in": "sha256:deadbeef"}

	id1 := stageFingerprint("org.stage.one", opt1, names, ids, "")
	id2 := stageFingerprint("org.stage.one", opt2, names, ids, "")
	assert.Equal(t, id1, id2)
}

func TestStageFingerprint_DiffersByBuildEnv(t *testing.T) {
	id1 := stageFingerprint("org.stage.one", nil, nil, nil, "sha256:aaaa")
	id2 := stageFingerprint("org.stage.one", nil, nil, nil, "sha256:bbbb")
	assert.Assert(t, id1 != id2)
}

func TestEmptyPipelineID_DiffersFromNonEmptyStageID(t *testing.T) {
	empty := emptyPipelineID("")
	stage := stageFingerprint("", nil, nil, nil, "")
	assert.Assert(t, empty != stage)
}
