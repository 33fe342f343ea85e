package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/atprouter/core/pkg/artifacts"
	"github.com/atprouter/core/pkg/crypto"
	"github.com/atprouter/core/pkg/evidence"
)

// runEvidenceCmd implements `atprouter evidence sign <pack-id> <file>...`
// and `atprouter evidence verify <record-hash> <file>...`. Sign and verify
// are independent invocations against content-addressed storage: sign
// notarizes the named files, persists them and the signed record to the
// configured Store, and prints the record's content hash; verify fetches
// the record by that hash and checks it against a (possibly different)
// copy of the same files using the public key embedded in the record's own
// certificate chain, so no in-process signer state is required.
func runEvidenceCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: atprouter evidence sign <pack-id> <file>...")
		_, _ = fmt.Fprintln(stderr, "       atprouter evidence verify <record-hash> <file>...")
		return 2
	}

	action, ref, paths := args[0], args[1], args[2:]
	if len(paths) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: at least one file is required")
		return 2
	}

	files := make(map[string][]byte, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // operator-supplied CLI paths
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot read %s: %v\n", p, err)
			return 2
		}
		files[p] = data
	}

	store, err := evidenceStore()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	ctx := context.Background()

	switch action {
	case "sign":
		return runEvidenceSign(ctx, store, ref, files, stdout, stderr)
	case "verify":
		return runEvidenceVerify(ctx, store, ref, files, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown evidence action: %s\n", action)
		return 2
	}
}

func runEvidenceSign(ctx context.Context, store artifacts.Store, packID string, files map[string][]byte, stdout, stderr io.Writer) int {
	rsaKey, err := crypto.NewRSASigner("evidence-cli-" + packID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	signer := evidence.NewSigner(rsaKey)
	notary, err := evidence.NewNotary(signer, "atprouter-cli", nil, "attests integrity of the enclosed evidence pack")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	record, err := notary.NotarizePack(packID, files, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	for name, data := range files {
		if _, err := store.Store(ctx, data); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: persist %s: %v\n", name, err)
			return 1
		}
	}

	recordJSON, err := evidence.MarshalRecord(record)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	hash, err := store.Store(ctx, recordJSON)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: persist record: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%s\n", hash)
	return 0
}

func runEvidenceVerify(ctx context.Context, store artifacts.Store, recordHash string, files map[string][]byte, stdout, stderr io.Writer) int {
	recordJSON, err := store.Get(ctx, recordHash)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load record: %v\n", err)
		return 1
	}
	var record evidence.NotarizationRecord
	if err := json.Unmarshal(recordJSON, &record); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: unmarshal record: %v\n", err)
		return 1
	}
	if len(record.CertificateChain) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: record has no certificate chain")
		return 1
	}

	verifier, err := crypto.NewRSAVerifierFromPEM([]byte(record.CertificateChain[0]), record.SignatureInfo.Metadata["key_id"].(string))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: decode signer public key: %v\n", err)
		return 1
	}

	actualHash := evidence.ComputePackHash(files)
	result := evidence.VerificationResult{Valid: true, HashValid: true, SignatureValid: true, NotaryValid: true}

	if actualHash != record.EvidenceHash {
		result.Valid, result.HashValid = false, false
		result.Errors = append(result.Errors, "pack hash mismatch")
	}
	if record.SignatureInfo == nil {
		result.Valid, result.SignatureValid = false, false
		result.Errors = append(result.Errors, "missing signature info")
	} else {
		ok, err := verifier.Verify([]byte(actualHash), record.SignatureInfo.Signature)
		if err != nil || !ok {
			result.Valid, result.SignatureValid = false, false
			result.Errors = append(result.Errors, "signature verification failed")
		}
	}

	out, _ := json.Marshal(result)
	_, _ = fmt.Fprintln(stdout, string(out))
	if !result.Valid {
		return 1
	}
	return 0
}

func evidenceStore() (artifacts.Store, error) {
	if bucket := os.Getenv("EVIDENCE_S3_BUCKET"); bucket != "" {
		return artifacts.NewS3Store(context.Background(), artifacts.S3StoreConfig{
			Bucket: bucket,
			Region: os.Getenv("AWS_REGION"),
		})
	}
	dir := os.Getenv("EVIDENCE_DIR")
	if dir == "" {
		dir = "./data/evidence"
	}
	return artifacts.NewFileStore(dir)
}
