// Package codec encrypts files at rest with AES-GCM.
//
// An encrypted file is laid out as
//
//	[12-byte nonce][16-byte tag][ciphertext]
//
// and is keyed by a single static master key.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"imagevault/internal/filestore"
)

const (
	NonceSize  = 12
	TagSize    = 16
	HeaderSize = NonceSize + TagSize

	// EncryptedSuffix is appended to a plaintext path to name its encrypted sibling.
	EncryptedSuffix = ".enc"
	// ThumbnailSuffix goes between a stored file's base name and its extension.
	ThumbnailSuffix = "_thumb"
	ThumbnailExt    = ".jpg"
)

var (
	ErrNotFound       = errors.New("codec: file not found")
	ErrCorrupt        = errors.New("codec: encrypted file is shorter than header")
	ErrAuthentication = errors.New("codec: message authentication failed")
)

type Codec struct {
	aead  cipher.AEAD
	files filestore.FileStore
}

// New builds a Codec from a raw AES key (16, 24 or 32 bytes).
func New(key []byte, files filestore.FileStore) (*Codec, error) {
	const op = "codec.New"

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Codec{aead: aead, files: files}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Codec) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("codec.Seal: read nonce: %w", err)
	}

	// GCM appends the tag to the ciphertext; the on-disk layout wants it in front.
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, HeaderSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// Open verifies and decrypts a buffer produced by Seal.
func (c *Codec) Open(buf []byte) ([]byte, error) {
	if len(buf) < HeaderSize {
		return nil, ErrCorrupt
	}
	nonce := buf[:NonceSize]
	tag := buf[NonceSize:HeaderSize]
	ct := buf[HeaderSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Encrypt seals plaintext and writes it to path.
func (c *Codec) Encrypt(path string, plaintext []byte) error {
	const op = "codec.Encrypt"

	buf, err := c.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.files.WriteFile(path, buf); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Decrypt reads path and opens it. A missing file yields ErrNotFound.
func (c *Codec) Decrypt(path string) ([]byte, error) {
	const op = "codec.Decrypt"

	buf, err := c.files.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %s: %w", op, path, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	plaintext, err := c.Open(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, path, err)
	}
	return plaintext, nil
}

// EncryptFile replaces the plaintext file at path with its encrypted sibling
// path+".enc" and returns the new path.
func (c *Codec) EncryptFile(path string) (string, error) {
	const op = "codec.EncryptFile"

	plaintext, err := c.files.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	encPath := EncryptedPath(path)
	if err := c.Encrypt(encPath, plaintext); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := c.files.Remove(path); err != nil {
		return "", fmt.Errorf("%s: remove plaintext: %w", op, err)
	}
	return encPath, nil
}

// DecryptThumbnail decrypts the thumbnail that belongs to storedName in dir.
// It returns ErrNotFound when no thumbnail was ever written, so callers can
// fall back to the full image.
func (c *Codec) DecryptThumbnail(dir, storedName string) ([]byte, error) {
	return c.Decrypt(EncryptedPath(filepath.Join(dir, ThumbnailName(storedName))))
}

func EncryptedPath(path string) string {
	return path + EncryptedSuffix
}

// ThumbnailName derives "<base>_thumb.jpg" from a stored file name. An
// encryption suffix on the name is ignored.
func ThumbnailName(storedName string) string {
	name := strings.TrimSuffix(filepath.Base(storedName), EncryptedSuffix)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return base + ThumbnailSuffix + ThumbnailExt
}

// ThumbnailPath is ThumbnailName placed next to path.
func ThumbnailPath(path string) string {
	return filepath.Join(filepath.Dir(path), ThumbnailName(path))
}

// ParseKey decodes a hex encoded key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("codec.ParseKey: %w", err)
	}
	return key, nil
}

// GenerateShareToken returns 32 random bytes, hex encoded.
func GenerateShareToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("codec.GenerateShareToken: %w", err)
	}
	return hex.EncodeToString(b), nil
}
