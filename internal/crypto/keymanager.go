// Package crypto holds the wallet key, signs CLOB orders and auth messages
// with EIP-712, and builds HMAC headers for authenticated API calls.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	sealedVersion    = 1
)

// ErrNoKey is returned when no key source is configured.
var ErrNoKey = errors.New("crypto: no private key configured")

// sealedKey is the on-disk format of an encrypted wallet key.
type sealedKey struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the wallet key comes from. Hex wins over File.
type KeySource struct {
	Hex      string
	File     string
	Password string
}

// Configured reports whether any key source is set.
func (k KeySource) Configured() bool {
	return k.Hex != "" || k.File != ""
}

// Resolve returns the hex private key without 0x prefix.
func (k KeySource) Resolve() (string, error) {
	if k.Hex != "" {
		key := strings.TrimPrefix(k.Hex, "0x")
		if _, err := parseKey(key); err != nil {
			return "", err
		}
		return key, nil
	}
	if k.File != "" {
		data, err := os.ReadFile(k.File)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, k.Password)
	}
	return "", ErrNoKey
}

// EncryptKey seals a hex private key with PBKDF2-SHA256 and AES-256-GCM and
// returns the JSON document to write to disk. address is stored in clear
// for identification and may be empty.
func EncryptKey(privateKeyHex, password, address string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	raw, err := parseKey(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		Version:    sealedVersion,
		Address:    address,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// DecryptKey opens a document produced by EncryptKey.
func DecryptKey(doc []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var sk sealedKey
	if err := json.Unmarshal(doc, &sk); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if sk.Version != sealedVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", sk.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", sk.Salt, &salt},
		{"nonce", sk.Nonce, &nonce},
		{"ciphertext", sk.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

func parseKey(keyHex string) ([]byte, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d", len(raw))
	}
	return raw, nil
}
