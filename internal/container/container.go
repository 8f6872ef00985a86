// Package container wraps paste content in a password protected archive.
//
// A container is a zip archive holding a single entry named "content". The
// entry is compressed with zstd and then sealed with AES-256-GCM under a key
// derived from the deployment secret, so the GCM tag is the only integrity
// check. The entry data is laid out as
//
//	salt (16 bytes) || nonce (12 bytes) || ciphertext || tag (16 bytes)
//
// and the zip header carries the zstd method id with the encrypted flag set.
package container

import (
	"archive/zip"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/hkdf"
)

const (
	// EntryName is the name of the single archive entry.
	EntryName = "content"

	// MethodZstd is the zip compression method id assigned to zstd.
	MethodZstd uint16 = 93

	// FlagEncrypted is the general purpose bit marking an encrypted entry.
	FlagEncrypted uint16 = 0x1

	SaltLen  = 16
	NonceLen = 12
	KeyLen   = 32

	hkdfInfo = "pastebin-container-v1"
)

var (
	// ErrBadSecretOrCorrupt is returned by Open for any container that does
	// not authenticate. A wrong secret and damaged data are not told apart.
	ErrBadSecretOrCorrupt = errors.New("container: bad secret or corrupt data")

	ErrEmptySecret = errors.New("container: secret must not be empty")
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Secret is the deployment wide key material containers are sealed with.
type Secret []byte

// Seal compresses and encrypts raw and returns the resulting archive bytes.
func Seal(raw []byte, secret Secret) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("container: generate salt: %w", err)
	}

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("container: generate nonce: %w", err)
	}

	compressed := encoder.EncodeAll(raw, nil)

	payload := make([]byte, 0, SaltLen+NonceLen+len(compressed)+aead.Overhead())
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = aead.Seal(payload, nonce, compressed, []byte(EntryName))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	// CRC32 stays zero: a checksum of the plaintext would leak information
	// about it, and the GCM tag already covers integrity.
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               EntryName,
		Method:             MethodZstd,
		Flags:              FlagEncrypted,
		Modified:           time.Now().UTC(),
		CompressedSize64:   uint64(len(payload)),
		UncompressedSize64: uint64(len(raw)),
	})
	if err != nil {
		return nil, fmt.Errorf("container: create entry: %w", err)
	}

	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("container: write entry: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("container: finish archive: %w", err)
	}

	return buf.Bytes(), nil
}

// Open reverses Seal.
func Open(data []byte, secret Secret) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSecretOrCorrupt, err)
	}

	if len(zr.File) != 1 {
		return nil, fmt.Errorf("%w: expected 1 entry, found %d", ErrBadSecretOrCorrupt, len(zr.File))
	}

	f := zr.File[0]
	if f.Name != EntryName || f.Method != MethodZstd || f.Flags&FlagEncrypted == 0 {
		return nil, fmt.Errorf("%w: unexpected entry %q", ErrBadSecretOrCorrupt, f.Name)
	}

	rc, err := f.OpenRaw()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSecretOrCorrupt, err)
	}

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSecretOrCorrupt, err)
	}

	if len(payload) < SaltLen+NonceLen {
		return nil, fmt.Errorf("%w: entry too short", ErrBadSecretOrCorrupt)
	}

	salt := payload[:SaltLen]
	nonce := payload[SaltLen : SaltLen+NonceLen]
	sealed := payload[SaltLen+NonceLen:]

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, err
	}

	compressed, err := aead.Open(nil, nonce, sealed, []byte(EntryName))
	if err != nil {
		return nil, ErrBadSecretOrCorrupt
	}

	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSecretOrCorrupt, err)
	}

	if uint64(len(raw)) != f.UncompressedSize64 {
		return nil, fmt.Errorf("%w: size mismatch", ErrBadSecretOrCorrupt)
	}

	return raw, nil
}

// newAEAD derives the AES-256 key for one container with HKDF-SHA256 and
// returns the GCM instance for it.
func newAEAD(secret Secret, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("container: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("container: create cipher: %w", err)
	}

	return cipher.NewGCM(block)
}
