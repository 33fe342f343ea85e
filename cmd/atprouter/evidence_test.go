package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeEvidenceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunEvidenceCmd_SignThenVerifyRoundTrip(t *testing.T) {
	t.Setenv("EVIDENCE_DIR", t.TempDir())
	srcDir := t.TempDir()
	file := writeEvidenceFile(t, srcDir, "report.json", `{"result":"pass"}`)

	var signOut, signErr bytes.Buffer
	code := runEvidenceCmd([]string{"sign", "pack-1", file}, &signOut, &signErr)
	if code != 0 {
		t.Fatalf("sign exit code = %d, stderr = %s", code, signErr.String())
	}
	hash := strings.TrimSpace(signOut.String())
	if hash == "" {
		t.Fatalf("expected a record hash on stdout, got empty output")
	}

	var verifyOut, verifyErr bytes.Buffer
	code = runEvidenceCmd([]string{"verify", hash, file}, &verifyOut, &verifyErr)
	if code != 0 {
		t.Fatalf("verify exit code = %d, stderr = %s", code, verifyErr.String())
	}
	if !strings.Contains(verifyOut.String(), `"valid":true`) {
		t.Errorf("expected valid=true in verify output, got: %s", verifyOut.String())
	}
}

func TestRunEvidenceCmd_VerifyDetectsTamperedFile(t *testing.T) {
	t.Setenv("EVIDENCE_DIR", t.TempDir())
	srcDir := t.TempDir()
	file := writeEvidenceFile(t, srcDir, "report.json", `{"result":"pass"}`)

	var signOut, signErr bytes.Buffer
	if code := runEvidenceCmd([]string{"sign", "pack-2", file}, &signOut, &signErr); code != 0 {
		t.Fatalf("sign exit code = %d, stderr = %s", code, signErr.String())
	}
	hash := strings.TrimSpace(signOut.String())

	if err := os.WriteFile(file, []byte(`{"result":"fail"}`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var verifyOut, verifyErr bytes.Buffer
	code := runEvidenceCmd([]string{"verify", hash, file}, &verifyOut, &verifyErr)
	if code != 1 {
		t.Fatalf("verify exit code = %d, want 1 (tamper detected), stderr = %s", code, verifyErr.String())
	}
	if !strings.Contains(verifyOut.String(), `"valid":false`) {
		t.Errorf("expected valid=false in verify output, got: %s", verifyOut.String())
	}
}

func TestRunEvidenceCmd_RequiresAtLeastOneFile(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runEvidenceCmd([]string{"sign", "pack-3"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRunEvidenceCmd_UnknownAction(t *testing.T) {
	t.Setenv("EVIDENCE_DIR", t.TempDir())
	srcDir := t.TempDir()
	file := writeEvidenceFile(t, srcDir, "report.json", "data")

	var out, errOut bytes.Buffer
	code := runEvidenceCmd([]string{"bogus", "pack-4", file}, &out, &errOut)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}
