package crypto

import (
	"fmt"
	"sort"
	"sync"
)

// KeyRing holds multiple RSA signers keyed by key id, supporting rotation:
// new keys are added, old ones stay available for verification until
// revoked.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]*RSASigner
	active  string
}

// NewKeyRing creates an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{signers: make(map[string]*RSASigner)}
}

// AddKey registers a signer. The most recently added key becomes active
// unless SetActive is called explicitly.
func (k *KeyRing) AddKey(s *RSASigner) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID()] = s
	k.active = s.KeyID()
}

// SetActive pins the signing key explicitly; it must already be registered.
func (k *KeyRing) SetActive(keyID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.signers[keyID]; !ok {
		return fmt.Errorf("unknown key: %s", keyID)
	}
	k.active = keyID
	return nil
}

// RevokeKey removes a key from the ring. Signatures produced with it can no
// longer be verified via this ring.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, keyID)
	if k.active == keyID {
		k.active = k.lastKeyLocked()
	}
}

// lastKeyLocked returns the lexicographically-last remaining key id,
// deterministic fallback when the active key is revoked.
func (k *KeyRing) lastKeyLocked() string {
	var keys []string
	for id := range k.signers {
		keys = append(keys, id)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[len(keys)-1]
}

// ActiveSigner returns the currently active signer.
func (k *KeyRing) ActiveSigner() (*RSASigner, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[k.active]
	if !ok {
		return nil, fmt.Errorf("no active keyring key available")
	}
	return s, nil
}

// Sign signs with the active key and returns the key id used alongside the
// signature, so verification can look the key back up.
func (k *KeyRing) Sign(data []byte) (sigB64 string, keyID string, err error) {
	s, err := k.ActiveSigner()
	if err != nil {
		return "", "", err
	}
	sig, err := s.Sign(data)
	if err != nil {
		return "", "", err
	}
	return sig, s.KeyID(), nil
}

// Verify checks a signature against a specific key id in the ring.
func (k *KeyRing) Verify(keyID string, data []byte, signatureB64 string) (bool, error) {
	k.mu.RLock()
	s, ok := k.signers[keyID]
	k.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("unknown or revoked key: %s", keyID)
	}
	return s.Verify(data, signatureB64)
}

// VerifyAny tries every registered key, for callers that didn't carry the
// key id alongside the signature.
func (k *KeyRing) VerifyAny(data []byte, signatureB64 string) (bool, string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var ids []string
	for id := range k.signers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if ok, err := k.signers[id].Verify(data, signatureB64); err == nil && ok {
			return true, id
		}
	}
	return false, ""
}
