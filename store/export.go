package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/banksean/pipeforge/errorkind"
)

// exportManifest is the small sidecar record SignExportManifest signs,
// letting a consumer of dest verify which store instance produced it and
// which object id it came from.
type exportManifest struct {
	ID         string    `json:"id"`
	Pipeline   string    `json:"pipeline"`
	ExportedAt time.Time `json:"exported_at"`
}

// ExportTree copies the committed object named id to dest, the only
// user-facing materialization path (spec.md §4.7). Like NewWorkspace's
// seeding it copies with cloneTree (cp --reflink=auto), which clones where
// the filesystem allows and copies bytes otherwise, so dest may live on a
// different filesystem than the store root.
//
// Alongside the tree it writes dest.manifest.json (the exportManifest) and
// dest.manifest.sig (that JSON signed with the store's identity key), so a
// consumer can confirm which store produced the export without trusting
// the filesystem transport it arrived over.
func (s *Store) ExportTree(ctx context.Context, id, pipeline, dest string) error {
	src := s.ObjectPath(id)
	if _, err := os.Stat(src); err != nil {
		return errorkind.New(errorkind.StoreIO, id, "exported object missing from store", err)
	}
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return errorkind.New(errorkind.StoreIO, id, "creating export output directory", err)
	}
	if err := cloneTree(ctx, src, dest); err != nil {
		return errorkind.New(errorkind.StoreIO, id, "exporting committed tree", err)
	}

	manifestBytes, err := json.Marshal(exportManifest{ID: id, Pipeline: pipeline, ExportedAt: time.Now().UTC()})
	if err != nil {
		return errorkind.New(errorkind.Internal, id, "marshaling export manifest", err)
	}
	sig, err := s.SignExportManifest(manifestBytes)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest+".manifest.json", manifestBytes, 0o644); err != nil {
		return errorkind.New(errorkind.StoreIO, id, "writing export manifest", err)
	}
	if err := os.WriteFile(dest+".manifest.sig", sig, 0o644); err != nil {
		return errorkind.New(errorkind.StoreIO, id, "writing export manifest signature", err)
	}
	return nil
}

// ExportPath returns the conventional destination directory for pipeline
// name's export under outputRoot.
func ExportPath(outputRoot, pipelineName string) string {
	return filepath.Join(outputRoot, pipelineName)
}
