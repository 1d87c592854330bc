package sourcecache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// RegistryHelper fetches a container image reference from an OCI registry
// and caches it as a single tarball keyed by content checksum.
type RegistryHelper struct {
	Dir string
}

func NewRegistryHelper(dir string) *RegistryHelper {
	return &RegistryHelper{Dir: dir}
}

func (r *RegistryHelper) path(checksum string) string {
	return filepath.Join(r.Dir, checksum)
}

func (r *RegistryHelper) Exists(ctx context.Context, checksum string) (bool, error) {
	_, err := os.Stat(r.path(checksum))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (r *RegistryHelper) Fetch(ctx context.Context, checksum string, descriptor manifest.SourceDesc) error {
	if err := os.MkdirAll(r.Dir, 0o750); err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "creating cache directory", err)
	}

	ref, err := name.ParseReference(descriptor.Ref)
	if err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "parsing image reference "+descriptor.Ref, err)
	}

	opts := []remote.Option{remote.WithContext(ctx)}
	if keychain, err := registryKeychain(descriptor); err == nil {
		opts = append(opts, remote.WithAuthFromKeychain(keychain))
	} else {
		return errorkind.New(errorkind.SourceAuth, checksum, "resolving registry credentials", err)
	}

	img, err := remote.Image(ref, opts...)
	if err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "pulling image "+descriptor.Ref, err)
	}

	tmpPath := r.path(checksum) + ".tmp"
	if err := tarball.WriteToFile(tmpPath, ref, img); err != nil {
		os.Remove(tmpPath)
		return errorkind.New(errorkind.SourceFetch, checksum, "writing image tarball", err)
	}

	if err := verifyChecksum(tmpPath, checksum); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, r.path(checksum))
}

// registryKeychain resolves registry auth from the process environment, as
// named by the descriptor's secrets map (e.g. {"auth": "REGISTRY_AUTH"}),
// falling back to the default keychain (docker config, credential helpers)
// when no secret is named.
func registryKeychain(descriptor manifest.SourceDesc) (authn.Keychain, error) {
	envVar, ok := descriptor.Secrets["auth"]
	if !ok {
		return authn.DefaultKeychain, nil
	}
	token, ok := os.LookupEnv(envVar)
	if !ok || token == "" {
		return nil, errorkind.New(errorkind.SourceAuth, envVar, "registry auth environment variable is not set", nil)
	}
	return &staticKeychain{token: token}, nil
}

type staticKeychain struct{ token string }

func (k *staticKeychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	return authn.FromConfig(authn.AuthConfig{RegistryToken: k.token}), nil
}
