// Package secure keeps credential material encrypted while it sits in memory.
//
// A Sealed value wraps a memguard enclave: the plaintext is encrypted with
// XSalsa20Poly1305 as soon as it is sealed and only decrypted into a locked
// buffer for the duration of a Reveal or Open call.
//
// # Usage
//
//	s := secure.Seal([]byte(creds.Password))
//	defer s.Destroy()
//
//	password, err := s.Reveal()
//	if err != nil {
//	    return err
//	}
//
// # Platform Behavior
//
// Memory locking depends on RLIMIT_MEMLOCK on Linux. When mlock is not
// available memguard falls back to ordinary heap memory; the enclave
// contents are still encrypted.
//
// It does NOT protect against attackers with access to the running process
// or against hardware-level attacks.
package secure
