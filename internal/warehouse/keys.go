package warehouse

import (
	"crypto/rsa"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// loadPrivateKey reads and parses an RSA private key for key-pair auth.
// The key is loaded once at connect time and held only in memory.
// PKCS#1, PKCS#8, and OpenSSH encodings are accepted; encrypted keys need
// the passphrase.
func loadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	var parsed any
	if passphrase != "" {
		parsed, err = ssh.ParseRawPrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		parsed, err = ssh.ParseRawPrivateKey(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return key, nil
}
