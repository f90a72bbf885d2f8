// Package vault encrypts and decrypts sensitive contact field values with
// AES-256-GCM. Ciphertexts are stored as text columns, so values are
// base64-encoded with the nonce prefixed.
//
// Absence is a first-class state: blank input encrypts to "", and a value
// that fails authentication decrypts to "" with a logged warning. Callers
// cannot distinguish "missing" from "undecryptable"; one corrupted historical
// record must never block reading the rest.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"contactguard/internal/vault/metrics"
	dErrors "contactguard/pkg/domain-errors"
)

// MinKeyBytes is the entropy floor for raw key files.
const MinKeyBytes = 32

// kdfSalt is fixed: the key file itself is the secret, the KDF only maps an
// arbitrary-length file onto a 32-byte AES key.
var kdfSalt = []byte("contactguard-master-key")

const kdfIterations = 100_000

// Vault holds the AEAD prepared from the master key. Constructed once at
// startup and shared read-only afterwards.
type Vault struct {
	aead    cipher.AEAD
	log     *zap.Logger
	metrics *metrics.Metrics

	warnOnce sync.Once
}

// Option configures optional Vault dependencies.
type Option func(*Vault)

// WithMetrics attaches Prometheus metrics to the vault.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Vault) {
		v.metrics = m
	}
}

// New loads the key from the source and prepares the cipher. Any failure is
// CodeCryptoUnavailable and must abort startup.
func New(ctx context.Context, src KeySource, log *zap.Logger, opts ...Option) (*Vault, error) {
	if src == nil {
		return nil, dErrors.New(dErrors.CodeCryptoUnavailable, "key source is required")
	}
	raw, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	key := deriveKey(raw)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCryptoUnavailable, "prepare cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCryptoUnavailable, "prepare AEAD")
	}
	if log == nil {
		log = zap.NewNop()
	}
	v := &Vault{aead: aead, log: log}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// deriveKey maps the key file content onto a 32-byte AES key. A file that is
// already exactly 32 raw bytes, or 32 bytes base64-encoded, is used directly;
// anything else goes through PBKDF2.
func deriveKey(raw []byte) []byte {
	if len(raw) == MinKeyBytes {
		return raw
	}
	if decoded, err := base64.URLEncoding.DecodeString(string(raw)); err == nil && len(decoded) == MinKeyBytes {
		return decoded
	}
	return pbkdf2.Key(raw, kdfSalt, kdfIterations, MinKeyBytes, sha256.New)
}

// Encrypt seals a field value. Blank input yields "" (absent), not an
// encrypted empty string: absence must stay distinguishable from failure.
func (v *Vault) Encrypt(plain string) (string, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generate nonce")
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored ciphertext. Blank input returns "". Failure (wrong
// key, corruption, tampering) also returns "" after a logged warning and
// never raises.
func (v *Vault) Decrypt(ciphertext string) string {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return ""
	}
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(sealed) <= v.aead.NonceSize() {
		v.warnDecrypt()
		return ""
	}
	nonce, body := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, body, nil)
	if err != nil {
		v.warnDecrypt()
		return ""
	}
	return string(plain)
}

func (v *Vault) warnDecrypt() {
	v.metrics.IncrementDecryptFailure()
	// Per-call logs would flood on a bulk read over a corrupted column, but
	// going fully silent hides real key mismatches. Warn once per process at
	// warn level and keep the rest at debug.
	v.warnOnce.Do(func() {
		v.log.Warn("decryption failed for a stored field (corrupt data or wrong key); degrading to absent")
	})
	v.log.Debug("decryption failure degraded to absent")
}
