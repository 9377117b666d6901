package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Functions

// LoadOrCreateIdentity reads the ed25519 identity stored at
// path or, if there is none yet, generates and stores one.
func LoadOrCreateIdentity(path string) (ed25519.PrivateKey, error) {

	key, err := LoadIdentity(path)
	if err == nil {
		return key, nil
	}

	if !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}

	_, key, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate identity")
	}

	if err := SaveIdentity(path, key); err != nil {
		return nil, err
	}

	return key, nil
}

// LoadIdentity reads a PKCS #8 encoded ed25519 key in PEM format.
func LoadIdentity(path string) (ed25519.PrivateKey, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read identity at '%s'", path)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.Errorf("no private key block in '%s'", path)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse identity at '%s'", path)
	}

	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.Errorf("identity at '%s' is not an ed25519 key", path)
	}

	return key, nil
}

// SaveIdentity writes key to path, readable by the owner only.
func SaveIdentity(path string, key ed25519.PrivateKey) error {

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return errors.Wrap(err, "failed to encode identity")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrapf(err, "failed to create directory for '%s'", path)
	}

	keyFile, err := os.OpenFile(path, (os.O_WRONLY | os.O_CREATE | os.O_TRUNC), 0600)
	if err != nil {
		return errors.Wrapf(err, "failed to open file for identity at '%s'", path)
	}
	defer keyFile.Close()

	// Encode it in PEM format and save to disk.
	err = pem.Encode(keyFile, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err != nil {
		return errors.Wrapf(err, "failed to write identity to '%s'", path)
	}

	return keyFile.Sync()
}
