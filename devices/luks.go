package devices

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banksean/pipeforge/errorkind"
)

// LUKSOptions carries the passphrase (delivered through a secret env var
// name, never inline) and the mapper name to open an encrypted volume
// under.
type LUKSOptions struct {
	MapperName       string `json:"mapperName"`
	PassphraseEnvVar string `json:"passphraseEnvVar"`
}

// LUKS opens an encrypted volume via cryptsetup, handing the passphrase in
// on stdin rather than argv so it never shows up in a process listing.
type LUKS struct {
	opts LUKSOptions
}

func (l *LUKS) Open(ctx context.Context, parentPath string, rawOptions json.RawMessage) (*Opened, error) {
	if err := json.Unmarshal(rawOptions, &l.opts); err != nil {
		return nil, errorkind.New(errorkind.DeviceOpen, "luks", "decoding options", err)
	}
	if l.opts.MapperName == "" {
		return nil, errorkind.New(errorkind.DeviceOpen, "luks", "mapperName is required", nil)
	}
	if parentPath == "" {
		return nil, errorkind.New(errorkind.DeviceOpen, "luks", "a parent block device is required", nil)
	}

	passphrase, err := lookupSecret(l.opts.PassphraseEnvVar)
	if err != nil {
		return nil, errorkind.New(errorkind.SourceAuth, "luks", "resolving passphrase", err)
	}

	cmd := cryptsetupOpenCmd(ctx, parentPath, l.opts.MapperName)
	cmd.Stdin = newStringReader(passphrase)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, errorkind.New(errorkind.DeviceOpen, "luks", "cryptsetup luksOpen: "+string(out), err)
	}

	devPath := fmt.Sprintf("/dev/mapper/%s", l.opts.MapperName)
	return &Opened{Path: devPath}, nil
}

func (l *LUKS) Close(ctx context.Context) error {
	_, err := run(ctx, "cryptsetup", "luksClose", l.opts.MapperName)
	return err
}
