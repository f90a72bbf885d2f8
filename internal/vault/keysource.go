package vault

import (
	"bytes"
	"context"
	"os"

	dErrors "contactguard/pkg/domain-errors"
)

// KeySource provides the master key bytes exactly once at startup. Key
// material is never derived from per-request network input.
type KeySource interface {
	Load(ctx context.Context) ([]byte, error)
}

// FileKeySource reads the key from a restricted file (docker secret or
// read-only bind mount).
type FileKeySource struct {
	Path string
}

// Load reads and validates the key file. A missing or short key is fatal:
// the process must not serve encryption-dependent operations without it.
func (s FileKeySource) Load(_ context.Context) ([]byte, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCryptoUnavailable,
			"master key file not readable; mount it via docker secrets or a read-only bind mount")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) < MinKeyBytes {
		return nil, dErrors.Newf(dErrors.CodeCryptoUnavailable,
			"master key must be at least %d bytes", MinKeyBytes)
	}
	return raw, nil
}

// StaticKeySource serves a fixed key. Test use only.
type StaticKeySource []byte

func (s StaticKeySource) Load(_ context.Context) ([]byte, error) {
	if len(s) < MinKeyBytes {
		return nil, dErrors.Newf(dErrors.CodeCryptoUnavailable,
			"master key must be at least %d bytes", MinKeyBytes)
	}
	return []byte(s), nil
}
