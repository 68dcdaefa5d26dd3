package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Hooks for tests.
var fileWriteFile = os.WriteFile

var fileRandReader io.Reader = rand.Reader

// FileStore keeps all secrets in one AES-GCM encrypted JSON object.
// The file layout is nonce || ciphertext.
type FileStore struct {
	path string
	aead cipher.AEAD
	mu   sync.Mutex
}

// NewFileStore returns a FileStore at path sealed with a 32-byte key.
func NewFileStore(path string, key []byte) (*FileStore, error) {
	if len(key) != 32 {
		return nil, errors.New("secrets: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, aead: aead}, nil
}

// OpenDefault opens the store at DefaultPath with the key from KeyFromEnvironment.
func OpenDefault() (*FileStore, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	key, err := KeyFromEnvironment()
	if err != nil {
		return nil, err
	}
	return NewFileStore(path, key)
}

func (f *FileStore) Get(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := m[name]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStore) Set(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	m[name] = value
	return f.save(m)
}

func (f *FileStore) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return nil
	}
	delete(m, name)
	return f.save(m)
}

// load returns the decrypted map; a missing file is an empty map.
// A file that cannot be decrypted is an error, never silently replaced.
func (f *FileStore) load() (map[string]string, error) {
	m := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets read: %w", err)
	}
	ns := f.aead.NonceSize()
	if len(data) < ns {
		return nil, errors.New("secrets file truncated")
	}
	plain, err := f.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("secrets decrypt (wrong passphrase?): %w", err)
	}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("secrets parse: %w", err)
	}
	return m, nil
}

func (f *FileStore) save(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("secrets mkdir: %w", err)
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return err
	}
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := io.ReadFull(fileRandReader, nonce); err != nil {
		return fmt.Errorf("secrets nonce: %w", err)
	}
	return fileWriteFile(f.path, f.aead.Seal(nonce, nonce, plain, nil), 0600)
}

var _ Store = (*FileStore)(nil)
