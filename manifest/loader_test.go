package manifest

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestLoad_RejectsWrongVersion(t *testing.T) {
	_, err := Load(strings.NewReader(`{"version":"1","pipelines":[{"stages":[]}]}`))
	assert.ErrorContains(t, err, "unsupported manifest version")
}

func TestLoad_RejectsEmptyManifest(t *testing.T) {
	_, err := Load(strings.NewReader(`{"version":"2","pipelines":[]}`))
	assert.ErrorContains(t, err, "no pipelines")
}

func TestLoad_EmptyPipelineIDsAreStable(t *testing.T) {
	doc := `{"version":"2","pipelines":[{"name":"a","stages":[]},{"name":"b","stages":[]}]}`
	r1, err := Load(strings.NewReader(doc))
	assert.NilError(t, err)
	r2, err := Load(strings.NewReader(doc))
	assert.NilError(t, err)

	assert.Equal(t, r1.Pipelines[0].ID, r2.Pipelines[0].ID)
	// Two empty pipelines with no build environment collide onto the same id.
	assert.Equal(t, r1.Pipelines[0].ID, r1.Pipelines[1].ID)
}

func TestLoad_TwoStageIDsAreDeterministicAndOrderIndependent(t *testing.T) {
	docA := `{
		"version":"2",
		"sources":{"curl":{"sha256:aa":{"url":"https://example.test/a.tar"}}},
		"pipelines":[{"name":"p","stages":[
			{"type":"org.stage.one","inputs":{"tree":{"source":{"kind":"curl","checksums":["sha256:aa"]}}}},
			{"type":"org.stage.two","options":{"x":1}}
		]}]
	}`
	docB := `{
		"version":"2",
		"sources":{"curl":{"sha256:aa":{"url":"https://example.test/a.tar"}}},
		"pipelines":[{"name":"p","stages":[
			{"inputs":{"tree":{"source":{"checksums":["sha256:aa"],"kind":"curl"}}},"type":"org.stage.one"},
			{"options":{"x":1},"type":"org.stage.two"}
		]}]
	}`
	r1, err := Load(strings.NewReader(docA))
	assert.NilError(t, err)
	r2, err := Load(strings.NewReader(docB))
	assert.NilError(t, err)
	assert.Equal(t, r1.Pipelines[0].ID, r2.Pipelines[0].ID)
	assert.Assert(t, is.Len(r1.Pipelines[0].Stages, 2))
}

func TestLoad_RejectsUnresolvedSourceChecksum(t *testing.T) {
	doc := `{
		"version":"2",
		"sources":{"curl":{"sha256:aa":{"url":"https://example.test/a.tar"}}},
		"pipelines":[{"name":"p","stages":[
			{"type":"org.stage.one","inputs":{"tree":{"source":{"kind":"curl","checksums":["sha256:missing"]}}}}
		]}]
	}`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorContains(t, err, "not declared")
}

func TestLoad_RejectsPipelineBuildCycle(t *testing.T) {
	doc := `{"version":"2","pipelines":[
		{"name":"a","build":"b","stages":[]},
		{"name":"b","build":"a","stages":[]}
	]}`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorContains(t, err, "cycle")
}

func TestLoad_RejectsDeviceParentCycle(t *testing.T) {
	doc := `{"version":"2","pipelines":[{"name":"p","stages":[
		{"type":"org.stage.one","devices":{
			"x":{"kind":"loopback","parent":"y"},
			"y":{"kind":"loopback","parent":"x"}
		}}
	]}]}`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorContains(t, err, "cycle")
}

func TestLoad_AssignsDeterministicAnonymousNames(t *testing.T) {
	doc := `{"version":"2","pipelines":[{"stages":[]}]}`
	r1, err := Load(strings.NewReader(doc))
	assert.NilError(t, err)
	r2, err := Load(strings.NewReader(doc))
	assert.NilError(t, err)
	assert.Equal(t, r1.Pipelines[0].Name, r2.Pipelines[0].Name)
	assert.Assert(t, strings.HasPrefix(r1.Pipelines[0].Name, "anon-"))
}

func TestLoad_PipelineOriginChainsBuildEnvironment(t *testing.T) {
	doc := `{"version":"2","pipelines":[
		{"name":"base","stages":[{"type":"org.stage.one"}]},
		{"name":"child","build":"base","stages":[{"type":"org.stage.two"}]}
	]}`
	r, err := Load(strings.NewReader(doc))
	assert.NilError(t, err)
	base := r.Pipelines[0]
	child := r.Pipelines[1]
	assert.Equal(t, child.Stages[0].BuildEnvID, base.ID)
}
