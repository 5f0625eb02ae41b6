// Package keystore keeps the node key on disk, sealed with a passphrase.
package keystore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	keySize   = 32
	nonceSize = 24
	saltSize  = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	ErrNoKey         = errors.New("private key is not set")
	ErrDecryptFailed = errors.New("could not decrypt the key, possibly because the passphrase is incorrect")
)

// EncryptedKey is the file format. Secret is the nonce followed by the
// sealed key.
type EncryptedKey struct {
	Address common.Address `json:"address"`
	Salt    []byte         `json:"salt"`
	Secret  []byte         `json:"secret"`
}

type KeyStore struct {
	PrivateKey *ecdsa.PrivateKey
}

func NewKeyStore() *KeyStore {
	return &KeyStore{}
}

// Address is the account of the loaded key, or the zero address.
func (k *KeyStore) Address() common.Address {
	if k.PrivateKey == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(k.PrivateKey.PublicKey)
}

// LoadOrGenerate loads the key at filePath, creating and saving a new one
// when the file does not exist yet.
func (k *KeyStore) LoadOrGenerate(passphrase, filePath string) error {
	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
			return err
		}
		return k.GenerateKeyToFile(passphrase, filePath)
	}
	return k.LoadKeyFromFile(passphrase, filePath)
}

// GenerateKeyToFile generates a new key and saves it sealed under passphrase.
func (k *KeyStore) GenerateKeyToFile(passphrase, filePath string) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	k.PrivateKey = key
	return k.SaveKeyToFile(passphrase, filePath)
}

// SaveKeyToFile seals the key under passphrase and writes it to filePath.
func (k *KeyStore) SaveKeyToFile(passphrase, filePath string) error {
	if k.PrivateKey == nil {
		return ErrNoKey
	}
	secret := crypto.FromECDSA(k.PrivateKey)
	if len(secret) != keySize {
		return errors.New("private key has unexpected size")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return err
	}

	data, err := json.Marshal(&EncryptedKey{
		Address: k.Address(),
		Salt:    salt,
		Secret:  secretbox.Seal(nonce[:], secret, &nonce, &key),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0o600)
}

// LoadKeyFromFile reads the sealed key at filePath and opens it with
// passphrase.
func (k *KeyStore) LoadKeyFromFile(passphrase, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	var encrypted EncryptedKey
	if err := json.Unmarshal(data, &encrypted); err != nil {
		return err
	}
	if len(encrypted.Secret) < nonceSize {
		return fmt.Errorf("%w: sealed key too short", ErrDecryptFailed)
	}

	key, err := deriveKey(passphrase, encrypted.Salt)
	if err != nil {
		return err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], encrypted.Secret[:nonceSize])

	decrypted, ok := secretbox.Open(nil, encrypted.Secret[nonceSize:], &nonce, &key)
	if !ok {
		return ErrDecryptFailed
	}
	privateKey, err := crypto.ToECDSA(decrypted)
	if err != nil {
		return err
	}
	if addr := crypto.PubkeyToAddress(privateKey.PublicKey); addr != encrypted.Address {
		return fmt.Errorf("key file address %x does not match key %x", encrypted.Address, addr)
	}
	k.PrivateKey = privateKey
	return nil
}

func deriveKey(passphrase string, salt []byte) ([keySize]byte, error) {
	var key [keySize]byte
	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return key, err
	}
	copy(key[:], derived)
	return key, nil
}
