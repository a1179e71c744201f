package keys

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for new backups. Existing files carry their own.
const (
	backupVersion = 1
	argonTime     = 3
	argonMemory   = 64 * 1024
	argonThreads  = 4
	argonKeyLen   = chacha20poly1305.KeySize
	saltLen       = 16
)

var backupAAD = []byte("strand key backup v1")

// ErrNoPassphrase is returned when a backup is used without a passphrase
var ErrNoPassphrase = errors.New("key backup passphrase not set")

// BackupFile is the legacy passphrase-encrypted key file
type BackupFile struct {
	path       string
	passphrase string
}

// backupEnvelope is the on-disk JSON form
type backupEnvelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       []byte `json:"salt"`
	Time       uint32 `json:"time"`
	Memory     uint32 `json:"memory"`
	Threads    uint8  `json:"threads"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// NewBackupFile uses the file at path, encrypted with passphrase
func NewBackupFile(path, passphrase string) *BackupFile {
	return &BackupFile{path: path, passphrase: passphrase}
}

// Path returns the file location
func (b *BackupFile) Path() string {
	return b.path
}

func (b *BackupFile) Load(context.Context) (Keypair, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Keypair{}, ErrNoKey
	}
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to read key backup: %w", err)
	}
	if b.passphrase == "" {
		return Keypair{}, ErrNoPassphrase
	}

	var env backupEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Keypair{}, fmt.Errorf("failed to parse key backup: %w", err)
	}
	if env.Version != backupVersion || env.KDF != "argon2id" {
		return Keypair{}, fmt.Errorf("unsupported key backup version %d (%s)", env.Version, env.KDF)
	}

	aead, err := chacha20poly1305.NewX(argon2.IDKey([]byte(b.passphrase), env.Salt, env.Time, env.Memory, env.Threads, argonKeyLen))
	if err != nil {
		return Keypair{}, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return Keypair{}, fmt.Errorf("corrupt key backup: bad nonce length")
	}

	secret, err := aead.Open(nil, env.Nonce, env.Ciphertext, backupAAD)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to decrypt key backup: wrong passphrase or corrupt file")
	}
	return FromSecret(string(secret))
}

func (b *BackupFile) Save(_ context.Context, kp Keypair) error {
	if b.passphrase == "" {
		return ErrNoPassphrase
	}

	env := backupEnvelope{
		Version: backupVersion,
		KDF:     "argon2id",
		Salt:    make([]byte, saltLen),
		Time:    argonTime,
		Memory:  argonMemory,
		Threads: argonThreads,
		Nonce:   make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return err
	}
	if _, err := rand.Read(env.Nonce); err != nil {
		return err
	}

	aead, err := chacha20poly1305.NewX(argon2.IDKey([]byte(b.passphrase), env.Salt, env.Time, env.Memory, env.Threads, argonKeyLen))
	if err != nil {
		return err
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, []byte(kp.Secret), backupAAD)

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write key backup: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write key backup: %w", err)
	}
	return nil
}
