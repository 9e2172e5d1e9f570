package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/misc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	blobName = "session.bin"
	keyName  = "session.key"

	keySize  = 32
	saltSize = 16
	hkdfInfo = "aquila-session-v1"
)

var blobMagic = []byte("AQS1")

// FileStore keeps the session as an XChaCha20-Poly1305 encrypted blob.
//
// Layout of session.bin: magic | salt | nonce | ciphertext. The data key is
// derived with HKDF-SHA256 from the per-installation key in session.key and the
// per-blob salt. Clear shreds both files, so a copy of an old blob can no longer
// be decrypted after logout.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore returns a file store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the directory holding the session files.
func (f *FileStore) Dir() string { return f.dir }

// BlobPath returns the path of the encrypted session blob.
func (f *FileStore) BlobPath() string { return filepath.Join(f.dir, blobName) }

func (f *FileStore) keyPath() string { return filepath.Join(f.dir, keyName) }

// Save implements Store. The blob is written to a temporary file, fsynced and
// renamed over the previous one.
func (f *FileStore) Save(_ context.Context, s *auth.Session) error {
	plain, err := encodeSession(s)
	if err != nil {
		return err
	}
	defer zero(plain)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err = os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("session filestore: create dir failed: %w", err)
	}
	master, err := f.loadOrCreateKey()
	if err != nil {
		return err
	}
	defer zero(master)

	blob, err := sealBlob(master, plain)
	if err != nil {
		return err
	}
	misc.LogSavingSession("file", f.BlobPath())
	return writeFileAtomic(f.BlobPath(), blob)
}

// Load implements Store.
func (f *FileStore) Load(_ context.Context) (*auth.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	blob, err := os.ReadFile(f.BlobPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session filestore: read failed: %w", err)
	}
	master, err := os.ReadFile(f.keyPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: data key missing", ErrCorrupt)
	}
	if err != nil {
		return nil, fmt.Errorf("session filestore: read key failed: %w", err)
	}
	defer zero(master)

	plain, err := openBlob(master, blob)
	if err != nil {
		return nil, err
	}
	defer zero(plain)
	return decodeSession(plain)
}

// Clear implements Store. The blob and the data key are overwritten with random
// bytes and then zeros, fsynced and removed.
func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := shred(f.BlobPath()); err != nil {
		return err
	}
	if err := shred(f.keyPath()); err != nil {
		return err
	}
	syncDir(f.dir)
	return nil
}

func (f *FileStore) loadOrCreateKey() ([]byte, error) {
	master, err := os.ReadFile(f.keyPath())
	if err == nil && len(master) == keySize {
		return master, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("session filestore: read key failed: %w", err)
	}
	if err == nil {
		log.Warn("session data key has unexpected size, rotating")
	}
	master = make([]byte, keySize)
	if _, err = rand.Read(master); err != nil {
		return nil, fmt.Errorf("session filestore: generate key failed: %w", err)
	}
	if err = writeFileAtomic(f.keyPath(), master); err != nil {
		return nil, err
	}
	return master, nil
}

func deriveKey(master, salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("session filestore: derive key failed: %w", err)
	}
	return key, nil
}

func sealBlob(master, plain []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("session filestore: generate salt failed: %w", err)
	}
	key, err := deriveKey(master, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("session filestore: cipher init failed: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("session filestore: generate nonce failed: %w", err)
	}

	out := make([]byte, 0, len(blobMagic)+saltSize+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, blobMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, blobMagic), nil
}

func openBlob(master, blob []byte) ([]byte, error) {
	header := len(blobMagic) + saltSize + chacha20poly1305.NonceSizeX
	if len(blob) < header+chacha20poly1305.Overhead || !bytes.Equal(blob[:len(blobMagic)], blobMagic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	salt := blob[len(blobMagic) : len(blobMagic)+saltSize]
	nonce := blob[len(blobMagic)+saltSize : header]

	key, err := deriveKey(master, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("session filestore: cipher init failed: %w", err)
	}
	plain, err := aead.Open(nil, nonce, blob[header:], blobMagic)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrCorrupt)
	}
	return plain, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("session filestore: create temp failed: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err = tmp.Chmod(0o600); err != nil {
		log.Debugf("session filestore: chmod temp failed: %v", err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("session filestore: write temp failed: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("session filestore: sync temp failed: %w", err)
	}
	if err = tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("session filestore: close temp failed: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("session filestore: rename failed: %w", err)
	}
	syncDir(dir)
	return nil
}

// shred overwrites path with random bytes, then zeros, and removes it.
// A missing file is not an error.
func shred(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session filestore: open for shred failed: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("session filestore: stat failed: %w", err)
	}
	size := info.Size()
	for _, fill := range []func([]byte){fillRandom, zero} {
		buf := make([]byte, size)
		fill(buf)
		if _, err = file.WriteAt(buf, 0); err != nil {
			_ = file.Close()
			return fmt.Errorf("session filestore: overwrite failed: %w", err)
		}
		if err = file.Sync(); err != nil {
			_ = file.Close()
			return fmt.Errorf("session filestore: sync failed: %w", err)
		}
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("session filestore: close failed: %w", err)
	}
	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session filestore: remove failed: %w", err)
	}
	return nil
}

func fillRandom(b []byte) {
	_, _ = rand.Read(b)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
