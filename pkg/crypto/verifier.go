package crypto

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// RSAVerifier checks RSASSA-PSS-SHA256 signatures against a known public key.
// Used on the read side (notarization verification) when only the PEM
// certificate chain, not the private key, is available.
type RSAVerifier struct {
	pub   *rsa.PublicKey
	keyID string
}

// NewRSAVerifier builds a verifier from a PKIX-encoded public key.
func NewRSAVerifier(pub *rsa.PublicKey, keyID string) *RSAVerifier {
	return &RSAVerifier{pub: pub, keyID: keyID}
}

// NewRSAVerifierFromPEM parses a PEM-encoded PKIX public key (the first
// certificate-chain entry of a notarization record by default).
func NewRSAVerifierFromPEM(pemBytes []byte, keyID string) (*RSAVerifier, error) {
	pub, err := decodePublicKeyPEM(pemBytes)
	if err != nil {
		return nil, err
	}
	return &RSAVerifier{pub: pub, keyID: keyID}, nil
}

func (v *RSAVerifier) KeyID() string { return v.keyID }

func (v *RSAVerifier) Verify(data []byte, signatureB64 string) (bool, error) {
	return verifyPSS(v.pub, data, signatureB64)
}

func verifyPSS(pub *rsa.PublicKey, data []byte, signatureB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, fmt.Errorf("invalid base64 signature: %w", err)
	}
	digest := sha256.Sum256(data)
	err = rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOptions())
	if err != nil {
		return false, nil
	}
	return true, nil
}

func encodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func decodePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPub, nil
}
