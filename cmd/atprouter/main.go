// Command atprouter runs the multi-tenant AI-inference routing and
// governance plane: the admission pipeline, its firewall/WAF/guardian
// defenses, the policy decision point, the pricing and budget ledger, and
// a minimal health surface.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atprouter/core/pkg/auth"
	"github.com/atprouter/core/pkg/config"
	"github.com/atprouter/core/pkg/events"
	"github.com/atprouter/core/pkg/finance"
	"github.com/atprouter/core/pkg/firewall"
	"github.com/atprouter/core/pkg/guardian"
	"github.com/atprouter/core/pkg/improvement"
	"github.com/atprouter/core/pkg/ledger"
	"github.com/atprouter/core/pkg/metering"
	"github.com/atprouter/core/pkg/metrics"
	"github.com/atprouter/core/pkg/nonce"
	"github.com/atprouter/core/pkg/observability"
	"github.com/atprouter/core/pkg/pdp"
	"github.com/atprouter/core/pkg/pipeline"
	"github.com/atprouter/core/pkg/ratelimit"
	"github.com/atprouter/core/pkg/registry"
	"github.com/atprouter/core/pkg/waf"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the CLI entrypoint, exercised directly by tests.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "evidence":
		return runEvidenceCmd(args[2:], stdout, stderr)
	case "version":
		return runVersionCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI colors.
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sATP Router%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(w, "%sMulti-tenant AI-inference routing and governance plane.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  atprouter <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "ROUTER")
	printCommand(w, "server", "Run the admission pipeline server (default)")
	printCommand(w, "doctor", "Check system health and configuration")
	printCommand(w, "health", "Check server health (HTTP)")
	printCommand(w, "init", "Initialize a new router project")
	printCommand(w, "evidence", "Sign or verify an evidence pack (sign|verify)")
	printCommand(w, "version", "Show API version registry")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, name, ColorReset, desc)
}

//nolint:gocognit,gocyclo
func runServer() {
	fmt.Fprintf(os.Stdout, "%sATP Router starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()
	logger := slog.Default()

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = os.Getenv("OTEL_DISABLED") != "1"
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Fatalf("failed to init observability: %v", err)
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	reg := metrics.NewRegistry(obs.Meter())
	bus := events.New(logger)

	var (
		db       *sql.DB
		lgr      *ledger.Ledger
		modelReg *registry.Registry
		pgReg    *registry.PostgresRegistry
		budgets  finance.Tracker
		meter    metering.Meter
		usePG    bool
	)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fmt.Fprintf(os.Stdout, "ℹ️  DATABASE_URL not set. Falling back to %sLite Mode%s (SQLite).\n", ColorBold+ColorCyan, ColorReset)
		var sqlDB *sql.DB
		lgr, sqlDB, err = setupLiteMode(ctx)
		if err != nil {
			log.Fatalf("failed to setup lite mode: %v", err)
		}
		db = sqlDB
		modelReg = registry.NewRegistry()
		budgets = finance.NewInMemoryTracker()
		meter = metering.NewInMemoryMeter()
	} else {
		db, err = sql.Open("postgres", dbURL)
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("db ping failed: %v", err)
		}
		log.Println("[atprouter] postgres: connected")

		pgReg = registry.NewPostgresRegistry(db)
		if err := pgReg.Init(ctx); err != nil {
			log.Fatalf("failed to init registry: %v", err)
		}
		log.Println("[atprouter] registry: ready")

		pgBudgets := finance.NewPostgresTracker(db)
		budgets = pgBudgets

		store := ledger.NewSQLStore(db)
		if err := store.Init(ctx); err != nil {
			log.Fatalf("failed to init ledger store: %v", err)
		}
		entries, err := store.All(ctx)
		if err != nil {
			log.Fatalf("failed to replay ledger: %v", err)
		}
		lgr = ledger.NewLedgerFromEntries(entries, defaultEpsilonMax(), ledger.WithSQLSink(store))
		usePG = true

		pgMeter := metering.NewPostgresMeter(db)
		if err := pgMeter.Init(ctx); err != nil {
			log.Fatalf("failed to init usage meter: %v", err)
		}
		meter = pgMeter
	}

	// Input hardening.
	fw, err := firewall.New(bus, reg)
	if err != nil {
		log.Fatalf("failed to init firewall: %v", err)
	}

	// WAF, with optional operator-supplied custom rules/overrides and a
	// Redis-backed distributed rate limiter.
	var extraRules []waf.Rule
	var ruleFile *config.WAFRuleFile
	if rulesPath := os.Getenv("WAF_RULES_FILE"); rulesPath != "" {
		ruleFile, err = config.LoadWAFRuleFile(rulesPath)
		if err != nil {
			log.Fatalf("failed to load waf rules file: %v", err)
		}
		extraRules, err = ruleFile.CompiledRules()
		if err != nil {
			log.Fatalf("failed to compile waf custom rules: %v", err)
		}
	}

	wafFW, err := waf.New(waf.DefaultConfig(), bus, reg, extraRules...)
	if err != nil {
		log.Fatalf("failed to init waf: %v", err)
	}
	if ruleFile != nil {
		if err := ruleFile.ApplyOverrides(wafFW); err != nil {
			log.Fatalf("failed to apply waf rule overrides: %v", err)
		}
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		wafFW.Distributed = ratelimit.NewRedisLimiter(client, "atprouter:waf", 20, time.Second)
		log.Printf("[atprouter] waf: distributed rate limiting via %s", redisAddr)
	}

	// Replay guard.
	nonces := nonce.New(100_000, 5*time.Minute, nonce.WithEventBus(bus))

	// Abuse-prevention engine.
	guard := guardian.NewEngine(guardian.DefaultEngineConfig(), nil)

	// Policy decision point.
	decisionPoint := newPDP()

	// Pricing.
	pricingCache := finance.NewPricingCache(24 * time.Hour)
	pricing := finance.NewPricingManager(pricingCache, 0.1)

	var routingRegistry *registry.Registry
	if usePG {
		// PostgresRegistry and the in-memory Registry expose different
		// surfaces; the pipeline is built against the in-memory registry, so
		// mirror enabled models into it at startup. A later revision should
		// let the pipeline consult registry.PostgresRegistry directly.
		routingRegistry = registry.NewRegistry()
	} else {
		routingRegistry = modelReg
	}

	pipe := pipeline.New(fw, wafFW, nonces, guard, decisionPoint, routingRegistry, pricing, budgets, lgr, bus)
	pipe.Meter = meter
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		pipe.JWTSecret = []byte(secret)
	}

	improvePipe, err := improvement.NewRegistryPipeline(routingRegistry, reg)
	if err != nil {
		log.Fatalf("failed to init improvement pipeline: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/v1/admit", func(w http.ResponseWriter, r *http.Request) {
		handleAdmit(pipe, w, r)
	})
	mux.HandleFunc("/v1/improve", func(w http.ResponseWriter, r *http.Request) {
		handleImprove(improvePipe, w, r)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		log.Printf("[atprouter] server: :%s", port)
		//nolint:gosec // intentionally listening on all interfaces
		if err := http.ListenAndServe(":"+port, auth.RequestIDMiddleware(mux)); err != nil {
			log.Printf("[atprouter] server error: %v", err)
		}
	}()

	log.Printf("[atprouter] ready: http://localhost:%s", port)
	log.Println("[atprouter] press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[atprouter] shutting down")
}

func defaultEpsilonMax() float64 {
	return 10.0
}

func newPDP() pdp.PolicyDecisionPoint {
	if url := os.Getenv("OPA_URL"); url != "" {
		return pdp.NewOPAPDP(pdp.OPAConfig{URL: url, PolicyVersion: "v1"})
	}
	if url := os.Getenv("CEDAR_URL"); url != "" {
		return pdp.NewCedarPDP(pdp.CedarConfig{URL: url, PolicyVersion: "v1"})
	}
	return pdp.NewNativePDP("v1", nil)
}

func runHealthCmd(out, errOut io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	resp, err := http.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
