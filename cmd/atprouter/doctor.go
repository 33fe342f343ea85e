package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/atprouter/core/pkg/versioning"
)

// runDoctorCmd implements `atprouter doctor` — system health check.
//
// Exit codes:
//
//	0 = all checks pass
//	1 = one or more checks failed
func runDoctorCmd(stdout, stderr io.Writer) int {
	type checkResult struct {
		Name   string
		Status string // "ok", "warn", "fail"
		Detail string
	}

	var results []checkResult
	allOK := true

	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		results = append(results, checkResult{
			Name:   "database_url",
			Status: "warn",
			Detail: "DATABASE_URL not set, server will run in lite (sqlite) mode",
		})
	} else {
		results = append(results, checkResult{
			Name:   "database_url",
			Status: "ok",
			Detail: "set",
		})
		if _, err := exec.LookPath("pg_isready"); err == nil {
			if err := exec.Command("pg_isready").Run(); err != nil {
				results = append(results, checkResult{Name: "postgres", Status: "fail", Detail: "pg_isready failed"})
				allOK = false
			} else {
				results = append(results, checkResult{Name: "postgres", Status: "ok", Detail: "pg_isready succeeded"})
			}
		} else {
			results = append(results, checkResult{Name: "postgres", Status: "warn", Detail: "pg_isready not found in PATH"})
		}
	}

	dataDir := "data"
	if _, err := os.Stat(dataDir); err != nil {
		results = append(results, checkResult{
			Name:   "data_dir",
			Status: "warn",
			Detail: fmt.Sprintf("%s does not exist (will be created on first run)", dataDir),
		})
	} else {
		results = append(results, checkResult{Name: "data_dir", Status: "ok", Detail: dataDir})
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		results = append(results, checkResult{Name: "redis_addr", Status: "ok", Detail: redisAddr})
	} else {
		results = append(results, checkResult{Name: "redis_addr", Status: "warn", Detail: "REDIS_ADDR not set, WAF rate limiting is per-instance"})
	}

	if rulesPath := os.Getenv("WAF_RULES_FILE"); rulesPath != "" {
		if _, err := os.Stat(rulesPath); err != nil {
			results = append(results, checkResult{Name: "waf_rules_file", Status: "fail", Detail: fmt.Sprintf("%s: %v", rulesPath, err)})
		} else {
			results = append(results, checkResult{Name: "waf_rules_file", Status: "ok", Detail: rulesPath})
		}
	} else {
		results = append(results, checkResult{Name: "waf_rules_file", Status: "warn", Detail: "WAF_RULES_FILE not set, using built-in rules only"})
	}

	fmt.Fprintf(stdout, "\n%sATP Router Doctor%s\n", ColorBold+ColorPurple, ColorReset)
	fmt.Fprintln(stdout, "──────────────────")
	for _, r := range results {
		icon := "✅"
		if r.Status == "warn" {
			icon = "⚠️ "
		} else if r.Status == "fail" {
			icon = "❌"
		}
		fmt.Fprintf(stdout, "  %s  %-14s %s%s%s\n", icon, r.Name, ColorGray, r.Detail, ColorReset)
	}

	if allOK {
		fmt.Fprintf(stdout, "\n%sAll checks passed.%s\n", ColorGreen+ColorBold, ColorReset)
		return 0
	}
	return 1
}

// runInitCmd implements `atprouter init` — project scaffolding.
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	for _, d := range []string{"data", "policies"} {
		path := dir + "/" + d
		if err := os.MkdirAll(path, 0750); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot create %s: %v\n", path, err)
			return 2
		}
	}

	configPath := dir + "/atprouter.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := `# ATP Router Configuration
version: "1"
pdp:
  backend: native
budgets:
  epsilon_max: 10.0
`
		if err := os.WriteFile(configPath, []byte(config), 0600); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot write %s: %v\n", configPath, err)
			return 2
		}
	}

	_, _ = fmt.Fprintf(stdout, "Initialized ATP Router project in %s\n", dir)
	return 0
}

// runVersionCmd implements `atprouter version` — prints the registered
// public API versions.
func runVersionCmd(args []string, stdout, stderr io.Writer) int {
	jsonOutput := false
	for _, a := range args {
		if a == "--json" {
			jsonOutput = true
		}
	}

	reg := versioning.RouterAPIs()
	if jsonOutput {
		data, err := reg.ToJSON()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "\n%sATP Router API Versions%s\n", ColorBold+ColorPurple, ColorReset)
	for name, api := range reg.APIs {
		fmt.Fprintf(stdout, "  %s%-12s%s %s (%s)\n", ColorGreen, name, ColorReset, api.CurrentVersion.String(), api.Stability)
	}
	return 0
}
