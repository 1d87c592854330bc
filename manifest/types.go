// Package manifest parses the versioned JSON manifest, resolves every
// reference it contains, and computes the stable content-hash id of every
// pipeline and stage in it.
package manifest

import "encoding/json"

// SourceKind names a family of external content (e.g. "curl", "container-registry").
type SourceKind string

// Checksum is an algorithm-prefixed content hash, e.g. "sha256:abcd...".
type Checksum string

// ID is the fingerprint of a pipeline or stage: "sha256:<hex>".
type ID string

// Manifest is the top-level, version-2 document described in SPEC_FULL §3/§6.
type Manifest struct {
	Version   string                                `json:"version"`
	Sources   map[SourceKind]map[Checksum]SourceDesc `json:"sources"`
	Pipelines []Pipeline                             `json:"pipelines"`
}

// SourceDesc is the descriptor for one cached content item: everything the
// owning source-kind helper needs to fetch and verify it.
type SourceDesc struct {
	URL     string            `json:"url,omitempty"`
	Ref     string             `json:"ref,omitempty"` // e.g. container image reference, git ref
	Mirrors []string           `json:"mirrors,omitempty"`
	Inline  string             `json:"inline,omitempty"` // base64 content for the "inline" kind
	Secrets map[string]string `json:"secrets,omitempty"` // names of env vars carrying auth material
}

// Pipeline is one ordered sequence of stages producing a single tree.
type Pipeline struct {
	Name   string  `json:"name"`
	Build  *string `json:"build,omitempty"` // name of another pipeline used as the build environment, or nil for the host
	Runner string  `json:"runner,omitempty"`
	Stages []Stage `json:"stages"`
}

// Stage is one module invocation.
type Stage struct {
	Type    string             `json:"type"`
	Options json.RawMessage    `json:"options,omitempty"`
	Inputs  map[string]Origin  `json:"inputs,omitempty"`
	Devices map[string]Device  `json:"devices,omitempty"`
	Mounts  []Mount            `json:"mounts,omitempty"`
}

// Origin is a sum type: exactly one of Source or Pipeline is set.
type Origin struct {
	Source   *OriginSource   `json:"source,omitempty"`
	Pipeline *OriginPipeline `json:"pipeline,omitempty"`
}

// OriginSource references one or more content checksums within a source kind.
type OriginSource struct {
	Kind      SourceKind `json:"kind"`
	Checksums []Checksum `json:"checksums"`
}

// OriginPipeline references another pipeline's committed output tree.
type OriginPipeline struct {
	Pipeline string `json:"pipeline"`
	Subpath  string `json:"subpath,omitempty"`
}

// Device describes one host-service-managed block device, optionally layered
// on top of another device declared in the same stage.
type Device struct {
	Kind    string          `json:"kind"`
	Parent  string          `json:"parent,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Mount describes one host-service-managed mount stacked onto a device.
// Name identifies it for the sandbox's canonical /run/osbuild/mounts/<name>
// path; Target is the host-side path the mount helper actually mounts onto
// before the Runner bind-mounts that host path into the sandbox.
type Mount struct {
	Name    string          `json:"name"`
	Kind    string          `json:"kind"`
	Device  string          `json:"device"`
	Target  string          `json:"target"`
	Options json.RawMessage `json:"options,omitempty"`
}

// ResolvedStage is a Stage plus its computed fingerprint and resolved input ids.
type ResolvedStage struct {
	Stage
	ID         ID
	Name       string // "<pipeline>/<stage-index>:<type>", for logging
	InputIDs   map[string]ID
	BuildEnvID ID // id of the pipeline used as this stage's sandbox root, or "" for host
}

// ResolvedPipeline is a Pipeline with every stage resolved and ordered.
type ResolvedPipeline struct {
	Pipeline
	ID     ID // id of the pipeline's final stage, or a synthetic empty-pipeline id
	Stages []ResolvedStage
}

// Resolved is the fully loaded, topologically ordered manifest.
type Resolved struct {
	Manifest
	Pipelines []ResolvedPipeline
}
