package store

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/banksean/pipeforge/errorkind"
	"golang.org/x/crypto/ssh"
)

const identityKeyFilename = "store_identity_ed25519"

// ensureIdentity generates (once) an ed25519 keypair identifying this
// store, used to sign exported tree manifests so a consumer of an export
// can verify which store instance produced it. Idempotent: an existing key
// is left untouched.
func ensureIdentity(root string) (ssh.Signer, error) {
	idPath := filepath.Join(root, identityKeyFilename)

	if _, err := os.Stat(idPath); err == nil {
		return loadSigner(idPath)
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errorkind.New(errorkind.StoreIO, root, "generating store identity key", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "pipeforge store identity")
	if err != nil {
		return nil, errorkind.New(errorkind.StoreIO, root, "marshaling store identity key", err)
	}
	if err := os.WriteFile(idPath, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		return nil, errorkind.New(errorkind.StoreIO, root, "writing store identity key", err)
	}

	sshPub, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return nil, errorkind.New(errorkind.StoreIO, root, "deriving store identity public key", err)
	}
	if err := os.WriteFile(idPath+".pub", ssh.MarshalAuthorizedKey(sshPub), 0o644); err != nil {
		return nil, errorkind.New(errorkind.StoreIO, root, "writing store identity public key", err)
	}

	return ssh.NewSignerFromKey(privateKey)
}

func loadSigner(idPath string) (ssh.Signer, error) {
	b, err := os.ReadFile(idPath)
	if err != nil {
		return nil, errorkind.New(errorkind.StoreIO, idPath, "reading store identity key", err)
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errorkind.New(errorkind.StoreCorrupt, idPath, "store identity key is not valid PEM", nil)
	}
	key, err := ssh.ParseRawPrivateKey(pem.EncodeToMemory(block))
	if err != nil {
		return nil, errorkind.New(errorkind.StoreCorrupt, idPath, "parsing store identity key", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, errorkind.New(errorkind.StoreCorrupt, idPath, "deriving signer from store identity key", err)
	}
	return signer, nil
}

// SignExportManifest signs data (the canonical bytes of an export's
// manifest) with the store's identity key, lazily creating that key on
// first use.
func (s *Store) SignExportManifest(data []byte) ([]byte, error) {
	signer, err := ensureIdentity(s.Root)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(rand.Reader, data)
	if err != nil {
		return nil, errorkind.New(errorkind.StoreIO, s.Root, "signing export manifest", err)
	}
	return ssh.Marshal(sig), nil
}
