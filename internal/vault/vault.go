// Package vault stores third-party API keys encrypted at rest under the
// project's hidden directory, gated by an administrative token. The audit
// pipeline never touches this package; it serves the surrounding CLI and the
// relay's provider lookup.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kylo/internal/core/errors"
)

const (
	secureDirName  = "secure"
	adminTokenFile = "admin.tok"
	masterKeyFile  = "master.key"
	keyBundleFile  = "keys.enc"
)

type Vault struct {
	dir string
}

// New returns a vault rooted at <projectRoot>/.kylo/secure.
func New(projectRoot string) *Vault {
	return &Vault{dir: filepath.Join(projectRoot, ".kylo", secureDirName)}
}

func (v *Vault) AdminExists() bool {
	_, err := os.Stat(filepath.Join(v.dir, adminTokenFile))
	return err == nil
}

// SetAdminToken stores a salted digest of the token. The token itself is
// never written to disk.
func (v *Vault) SetAdminToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New(errors.CodeValidationError, "admin token must not be empty")
	}
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("create secure directory: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	digest := tokenDigest(salt, token)
	record := hex.EncodeToString(salt) + ":" + hex.EncodeToString(digest)
	return os.WriteFile(filepath.Join(v.dir, adminTokenFile), []byte(record), 0o600)
}

func (v *Vault) VerifyAdminToken(token string) bool {
	data, err := os.ReadFile(filepath.Join(v.dir, adminTokenFile))
	if err != nil {
		return false
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	return hmac.Equal(want, tokenDigest(salt, token))
}

// StoreAPIKey encrypts and stores the key for a named service, overwriting
// any previous value for that service.
func (v *Vault) StoreAPIKey(service, key string) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New(errors.CodeValidationError, "service name must not be empty")
	}

	bundle, err := v.loadBundle()
	if err != nil {
		return err
	}
	bundle[service] = key
	return v.saveBundle(bundle)
}

// GetAPIKey returns the stored key for a service.
func (v *Vault) GetAPIKey(service string) (string, error) {
	bundle, err := v.loadBundle()
	if err != nil {
		return "", err
	}
	key, ok := bundle[service]
	if !ok {
		return "", errors.AddContext(
			errors.New(errors.CodeNotFound, "no stored key for service"),
			errors.CtxService, service)
	}
	return key, nil
}

// ListKeys returns the service names with stored keys, sorted. Secrets are
// never returned.
func (v *Vault) ListKeys() ([]string, error) {
	bundle, err := v.loadBundle()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(bundle))
	for name := range bundle {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveAPIKey deletes the key for a service. Returns false if no key was
// stored.
func (v *Vault) RemoveAPIKey(service string) (bool, error) {
	bundle, err := v.loadBundle()
	if err != nil {
		return false, err
	}
	if _, ok := bundle[service]; !ok {
		return false, nil
	}
	delete(bundle, service)
	if err := v.saveBundle(bundle); err != nil {
		return false, err
	}
	return true, nil
}

func (v *Vault) loadBundle() (map[string]string, error) {
	ciphertext, err := os.ReadFile(filepath.Join(v.dir, keyBundleFile))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("read key bundle: %w", err)
	}

	gcm, err := v.sealer()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New(errors.CodeInternal, "key bundle truncated")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePermissionDenied, "decrypt key bundle")
	}

	bundle := make(map[string]string)
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return nil, fmt.Errorf("decode key bundle: %w", err)
	}
	return bundle, nil
}

func (v *Vault) saveBundle(bundle map[string]string) error {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("create secure directory: %w", err)
	}

	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode key bundle: %w", err)
	}
	gcm, err := v.sealer()
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return os.WriteFile(filepath.Join(v.dir, keyBundleFile), sealed, 0o600)
}

// sealer returns an AES-GCM cipher keyed by the per-project master key,
// creating the key on first use.
func (v *Vault) sealer() (cipher.AEAD, error) {
	keyPath := filepath.Join(v.dir, masterKeyFile)
	key, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		key = make([]byte, 32)
		if _, randErr := rand.Read(key); randErr != nil {
			return nil, fmt.Errorf("generate master key: %w", randErr)
		}
		if err := os.MkdirAll(v.dir, 0o700); err != nil {
			return nil, fmt.Errorf("create secure directory: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("write master key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New(errors.CodeInternal, "master key has wrong length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func tokenDigest(salt []byte, token string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(token))
	return h.Sum(nil)
}
