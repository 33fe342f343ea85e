package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atprouter/core/pkg/crypto"
)

// SignatureInfo is the artifact produced by signing an evidence pack.
type SignatureInfo struct {
	Signature string                 `json:"signature"`
	Algorithm string                 `json:"algorithm"`
	Timestamp time.Time              `json:"timestamp"`
	SignerInfo string                `json:"signer_info"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Signer holds an RSA key pair and signs/verifies evidence-pack hashes.
type Signer struct {
	rsa   *crypto.RSASigner
	keyID string
}

// NewSigner wraps an RSASigner (2048-bit, e=65537) for evidence-pack use.
func NewSigner(rsaSigner *crypto.RSASigner) *Signer {
	return &Signer{rsa: rsaSigner, keyID: rsaSigner.KeyID()}
}

// SignEvidencePack computes the pack hash and signs it with
// RSASSA-PSS-SHA256, returning a SignatureInfo with the pack hash recorded
// in its metadata.
func (s *Signer) SignEvidencePack(files map[string][]byte, signerInfo string) (*SignatureInfo, error) {
	if s == nil || s.rsa == nil {
		return nil, errors.New("fail-closed: evidence signer not configured")
	}
	packHash := ComputePackHash(files)

	sig, err := s.rsa.Sign([]byte(packHash))
	if err != nil {
		return nil, fmt.Errorf("sign evidence pack: %w", err)
	}

	return &SignatureInfo{
		Signature:  sig,
		Algorithm:  crypto.SignatureAlgorithm,
		Timestamp:  time.Now().UTC(),
		SignerInfo: signerInfo,
		Metadata: map[string]interface{}{
			"pack_hash": packHash,
			"key_id":    s.keyID,
		},
	}, nil
}

// VerifySignature recomputes the pack hash and verifies it against the
// given signature.
func (s *Signer) VerifySignature(files map[string][]byte, sig *SignatureInfo) (bool, error) {
	if s == nil || s.rsa == nil {
		return false, errors.New("fail-closed: evidence signer not configured")
	}
	packHash := ComputePackHash(files)
	return s.rsa.Verify([]byte(packHash), sig.Signature)
}

// NotarizationRecord is the persisted, JSON-serialized attestation that a
// pack was notarized at a given time by a given identity.
type NotarizationRecord struct {
	PackID           string                 `json:"pack_id"`
	NotaryID         string                 `json:"notary_id"`
	Timestamp        time.Time              `json:"timestamp"`
	EvidenceHash     string                 `json:"evidence_hash"`
	SignatureInfo    *SignatureInfo         `json:"signature_info"`
	CertificateChain []string               `json:"certificate_chain"`
	NotaryStatement  string                 `json:"notary_statement"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// VerificationResult reports the outcome of verifying a notarization record
// against the pack it claims to cover.
type VerificationResult struct {
	Valid          bool     `json:"valid"`
	SignatureValid bool     `json:"signature_valid"`
	HashValid      bool     `json:"hash_valid"`
	NotaryValid    bool     `json:"notary_valid"`
	Errors         []string `json:"errors"`
}

// Notary combines a Signer with an identity, certificate chain, and
// statement text to produce notarization records.
type Notary struct {
	signer           *Signer
	notaryID         string
	certificateChain []string
	statement        string
}

// NewNotary builds a notary. If chain is empty, the signer's own PEM public
// key is used as the sole certificate-chain entry.
func NewNotary(signer *Signer, notaryID string, chain []string, statement string) (*Notary, error) {
	if signer == nil {
		return nil, errors.New("fail-closed: notary requires a configured signer")
	}
	if len(chain) == 0 {
		pem, err := signer.rsa.PublicKeyPEM()
		if err != nil {
			return nil, fmt.Errorf("default certificate chain: %w", err)
		}
		chain = []string{pem}
	}
	return &Notary{
		signer:           signer,
		notaryID:         notaryID,
		certificateChain: chain,
		statement:        statement,
	}, nil
}

// NotarizePack signs the pack and wraps the result in a NotarizationRecord.
func (n *Notary) NotarizePack(packID string, files map[string][]byte, metadata map[string]interface{}) (*NotarizationRecord, error) {
	if n == nil {
		return nil, errors.New("fail-closed: notary not configured")
	}
	sig, err := n.signer.SignEvidencePack(files, n.notaryID)
	if err != nil {
		return nil, err
	}
	packHash := ComputePackHash(files)

	return &NotarizationRecord{
		PackID:           packID,
		NotaryID:         n.notaryID,
		Timestamp:        time.Now().UTC(),
		EvidenceHash:     packHash,
		SignatureInfo:    sig,
		CertificateChain: n.certificateChain,
		NotaryStatement:  n.statement,
		Metadata:         metadata,
	}, nil
}

// TamperDetector is implemented by the metrics registry; VerifyNotarization
// calls it on any verification mismatch.
type TamperDetector interface {
	IncTamperDetected()
}

// VerifyNotarization recomputes the pack hash, checks it against the
// record, and verifies the signature. Any mismatch triggers detector (if
// non-nil) and is reflected in the result's Errors.
func (n *Notary) VerifyNotarization(files map[string][]byte, record *NotarizationRecord, detector TamperDetector) *VerificationResult {
	result := &VerificationResult{Valid: true, SignatureValid: true, HashValid: true, NotaryValid: true}

	if record == nil {
		result.Valid = false
		result.Errors = append(result.Errors, "missing notarization record")
		return result
	}

	actualHash := ComputePackHash(files)
	if actualHash != record.EvidenceHash {
		result.HashValid = false
		result.Valid = false
		result.Errors = append(result.Errors, "pack hash mismatch")
	}

	if record.SignatureInfo == nil {
		result.SignatureValid = false
		result.Valid = false
		result.Errors = append(result.Errors, "missing signature info")
	} else {
		ok, err := n.signer.rsa.Verify([]byte(actualHash), record.SignatureInfo.Signature)
		if err != nil || !ok {
			result.SignatureValid = false
			result.Valid = false
			result.Errors = append(result.Errors, "signature verification failed")
		}
	}

	if record.NotaryID != n.notaryID {
		result.NotaryValid = false
		result.Valid = false
		result.Errors = append(result.Errors, "notary identity mismatch")
	}

	if !result.Valid && detector != nil {
		detector.IncTamperDetected()
	}
	return result
}

// MarshalRecord serializes a NotarizationRecord as JSON with ISO-8601
// timestamps and a base64-encoded signature (already base64 in
// SignatureInfo.Signature).
func MarshalRecord(record *NotarizationRecord) ([]byte, error) {
	return json.Marshal(record)
}
