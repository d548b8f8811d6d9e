package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed Sealed value is opened.
var ErrDestroyed = errors.New("sealed value destroyed")

// Sealed holds a secret encrypted in a memguard enclave. The zero value
// is an empty, usable secret.
type Sealed struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// Seal moves data into an enclave. memguard wipes data once it has been
// copied, so callers must not reuse the slice.
func Seal(data []byte) *Sealed {
	// NewEnclave returns nil for empty input; Open treats that as empty.
	return &Sealed{enclave: memguard.NewEnclave(data)}
}

// SealString seals a copy of s.
func SealString(s string) *Sealed {
	return Seal([]byte(s))
}

// Open decrypts the secret into a locked buffer. The caller must Destroy the
// returned buffer.
func (s *Sealed) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	if s.enclave == nil {
		return memguard.NewBuffer(0), nil
	}
	return s.enclave.Open()
}

// Reveal returns the plaintext as a string. The string lives on the Go heap,
// so call it as late as possible and drop the result quickly.
func (s *Sealed) Reveal() (string, error) {
	locked, err := s.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Size returns the plaintext length in bytes.
func (s *Sealed) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.enclave == nil {
		return 0
	}
	return s.enclave.Size()
}

// Destroy drops the enclave. It is idempotent.
func (s *Sealed) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}
