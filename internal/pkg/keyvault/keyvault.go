// Package keyvault generates custodial wallets and keeps their private keys
// encrypted at rest with AES-256-GCM.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

var ErrNotConfigured = errors.New("CUSTODIAL_KEY_ENCRYPTION_SECRET is required for custodial key encryption")

const hkdfInfo = "handlepay custodial key v1"

// Wallet is a freshly generated key pair; only the encrypted key leaves the vault.
type Wallet struct {
	Address      string
	EncryptedKey string
}

// Vault is the capability consumed by user provisioning.
type Vault interface {
	GenerateWallet() (Wallet, error)
	Encrypt(privateKeyHex string) (string, error)
}

// AESVault encrypts with a key derived from the configured secret.
type AESVault struct {
	aead cipher.AEAD
}

// New derives the data key from secret. An empty secret is ErrNotConfigured.
func New(secret string) (*AESVault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNotConfigured
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESVault{aead: aead}, nil
}

// GenerateWallet creates a secp256k1 key and returns its address and sealed key.
func (v *AESVault) GenerateWallet() (Wallet, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return Wallet{}, fmt.Errorf("generate key: %w", err)
	}
	sealed, err := v.Encrypt("0x" + hex.EncodeToString(crypto.FromECDSA(pk)))
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{
		Address:      crypto.PubkeyToAddress(pk.PublicKey).Hex(),
		EncryptedKey: sealed,
	}, nil
}

// Encrypt returns iv:tag:ciphertext, each hex encoded.
func (v *AESVault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - v.aead.Overhead()
	ciphertext, tag := sealed[:split], sealed[split:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (v *AESVault) Decrypt(sealed string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return "", errors.New("sealed key must be iv:tag:ciphertext")
	}
	iv, err1 := hex.DecodeString(parts[0])
	tag, err2 := hex.DecodeString(parts[1])
	ciphertext, err3 := hex.DecodeString(parts[2])
	if err := errors.Join(err1, err2, err3); err != nil {
		return "", fmt.Errorf("decode sealed key: %w", err)
	}
	if len(iv) != v.aead.NonceSize() {
		return "", errors.New("sealed key has wrong iv length")
	}
	plain, err := v.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("open sealed key: %w", err)
	}
	return string(plain), nil
}

// Unconfigured refuses every operation; used when no secret is set so the rest of
// the service can still run.
type Unconfigured struct{}

func (Unconfigured) GenerateWallet() (Wallet, error) { return Wallet{}, ErrNotConfigured }

func (Unconfigured) Encrypt(string) (string, error) { return "", ErrNotConfigured }
