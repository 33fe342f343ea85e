package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// RSAKeyBits is the mandated RSA modulus size for evidence-pack signing.
const RSAKeyBits = 2048

// SignatureAlgorithm is the fixed algorithm identifier carried on every
// signature artifact this package produces.
const SignatureAlgorithm = "RSASSA-PSS-SHA256"

// Signer produces RSASSA-PSS-SHA256 signatures over arbitrary byte payloads
// (typically a pack hash or a canonicalized record digest).
type Signer interface {
	// Sign returns a base64-standard-encoded PSS signature over data's SHA-256
	// digest.
	Sign(data []byte) (string, error)
	KeyID() string
	PublicKeyPEM() (string, error)
}

// Verifier checks RSASSA-PSS-SHA256 signatures produced by a Signer.
type Verifier interface {
	Verify(data []byte, signatureB64 string) (bool, error)
	KeyID() string
}

// RSASigner holds an RSA-2048 key pair (e=65537) identified by KeyID.
type RSASigner struct {
	key   *rsa.PrivateKey
	keyID string
}

// NewRSASigner generates a fresh 2048-bit RSA key pair for the given key id.
func NewRSASigner(keyID string) (*RSASigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("rsa key generation failed: %w", err)
	}
	return &RSASigner{key: key, keyID: keyID}, nil
}

// NewRSASignerFromKey wraps an existing private key, e.g. loaded from a PEM
// file at startup.
func NewRSASignerFromKey(key *rsa.PrivateKey, keyID string) *RSASigner {
	return &RSASigner{key: key, keyID: keyID}
}

func pssOptions() *rsa.PSSOptions {
	return &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	}
}

// Sign computes SHA-256(data) and signs the digest with RSASSA-PSS
// (MGF1-SHA256, salt length = digest length).
func (s *RSASigner) Sign(data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], pssOptions())
	if err != nil {
		return "", fmt.Errorf("pss sign failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *RSASigner) KeyID() string { return s.keyID }

func (s *RSASigner) PublicKey() *rsa.PublicKey { return &s.key.PublicKey }

// PublicKeyPEM returns the PEM-encoded PKIX public key, used as the default
// certificate-chain entry for a notarization record.
func (s *RSASigner) PublicKeyPEM() (string, error) {
	return encodePublicKeyPEM(&s.key.PublicKey)
}

// Verify checks a base64 PSS signature against data's SHA-256 digest using
// this signer's own public key (a signer always verifies its own output).
func (s *RSASigner) Verify(data []byte, signatureB64 string) (bool, error) {
	return verifyPSS(&s.key.PublicKey, data, signatureB64)
}
