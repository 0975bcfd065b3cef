// Command chainguard is the operational entrypoint for the ChainGuard
// core: it wires the domain packages together from a config document and
// exposes ops-facing checks (doctor, version), following the teacher's
// cmd/helm doctor/version split. It does not expose a client-facing
// surface — request_action, sign_request, and the rest of spec.md §6 are
// consumed by embedding pkg/dispatcher directly, not through this binary.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/audit"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/celeval"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/config"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/dispatcher"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/exportbundle"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/limits"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/observability"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/policy"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/principal"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/proposal"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/role"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/rpcadapter"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/signer"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint, mirroring cmd/helm's Run(args, stdout,
// stderr) int shape.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "chainguard %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "chainguard - security mediation engine for AI-agent/operator blockchain access")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  chainguard <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  doctor    Load a config document and verify every wired component starts")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w, "  help      Show this help")
}

// runDoctor loads a config document and constructs every wired component
// a production deployment needs, following cmd/helm's runDoctorCmd health
// check pattern but scoped to config validity and dependency wiring
// rather than a live server's health.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: chainguard doctor <config-path>")
		return 2
	}
	path := args[0]

	var checks []doctorCheck
	ok := true
	note := func(name, status, detail string) {
		checks = append(checks, doctorCheck{name, status, detail})
		if status == "fail" {
			ok = false
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		note("config", "fail", err.Error())
		printDoctorReport(stdout, checks)
		return 1
	}
	note("config", "ok", fmt.Sprintf("schema %s, %d polic(y/ies)", cfg.SchemaVersion, len(cfg.Policies)))

	policies, err := cfg.BuildPolicies()
	if err != nil {
		note("policies", "fail", err.Error())
	} else {
		note("policies", "ok", fmt.Sprintf("%d rule(s) compiled", len(policies)))
	}

	if _, err := celeval.New(); err != nil {
		note("cel_evaluator", "fail", err.Error())
	} else {
		note("cel_evaluator", "ok", "environment compiled")
	}

	if _, err := signer.NewEd25519Signer(); err != nil {
		note("signer", "fail", err.Error())
	} else {
		note("signer", "ok", "ed25519 keypair generated")
	}

	if cfg.RPC.URL != "" {
		rpcadapter.NewHTTPAdapter(rpcadapter.HTTPConfig{
			URL:               cfg.RPC.URL,
			RequestsPerSecond: cfg.RPC.RequestsPerSecond,
			Burst:             cfg.RPC.Burst,
		})
		note("rpc_adapter", "ok", cfg.RPC.URL)
	} else {
		note("rpc_adapter", "warn", "no rpc.url configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cfg.Database.DSN != "" {
		if err := checkDatabase(ctx, cfg.Database); err != nil {
			note("database", "fail", err.Error())
		} else {
			note("database", "ok", cfg.Database.Driver)
		}
	} else {
		note("database", "warn", "no database.dsn configured, proposals stay in-memory")
	}

	if cfg.Redis.Addr != "" {
		if err := checkRedis(ctx, cfg.Redis.Addr); err != nil {
			note("redis", "fail", err.Error())
		} else {
			note("redis", "ok", cfg.Redis.Addr)
		}
	} else {
		note("redis", "warn", "no redis.addr configured, limits stay in-memory")
	}

	if cfg.S3.Bucket != "" {
		if _, err := exportbundle.NewS3Store(ctx, exportbundle.S3StoreConfig{Bucket: cfg.S3.Bucket, Region: cfg.S3.Region}); err != nil {
			note("s3_export", "fail", err.Error())
		} else {
			note("s3_export", "ok", cfg.S3.Bucket)
		}
	} else {
		note("s3_export", "warn", "no s3.bucket configured, evidence export disabled")
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = false
	if _, err := observability.New(ctx, obsCfg); err != nil {
		note("observability", "fail", err.Error())
	} else {
		note("observability", "ok", "logger ready")
	}

	if err := buildDispatcher(ctx, cfg); err != nil {
		note("dispatcher_wiring", "fail", err.Error())
	} else {
		detail := "roles, policies, proposals, audit log wired; in-memory limits"
		if cfg.Redis.Addr != "" {
			detail = "roles, policies, proposals, audit log wired; redis-backed limits"
		}
		if cfg.Database.DSN != "" {
			detail += "; sql-backed proposals"
		}
		if cfg.Audit.RootSecretEnv != "" {
			detail += "; hmac-keyed audit chain"
		}
		note("dispatcher_wiring", "ok", detail)
	}

	printDoctorReport(stdout, checks)
	if ok {
		return 0
	}
	return 1
}

// doctorCheck is one line of the doctor report.
type doctorCheck struct {
	name   string
	status string
	detail string
}

func printDoctorReport(w io.Writer, checks []doctorCheck) {
	fmt.Fprintln(w, "chainguard doctor")
	fmt.Fprintln(w, "-----------------")
	for _, c := range checks {
		fmt.Fprintf(w, "  [%-4s] %-18s %s\n", c.status, c.name, c.detail)
	}
}

func checkDatabase(ctx context.Context, cfg config.DatabaseConfig) error {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.Driver, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging %s: %w", cfg.Driver, err)
	}
	return proposal.NewSQLStore(db, clockid.NewSequence()).Init(ctx)
}

// checkRedis pings addr and, if reachable, exercises the volume tracker's
// entry point once so a bad addr or ACL surfaces here rather than at the
// first live rate-limit check. The cooldown tracker is not exercised.
func checkRedis(ctx context.Context, addr string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	volume := limits.NewRedisVolumeTracker(client, "chainguard:doctor:volume")
	if _, err := volume.DailyVolumeContext(ctx, 0); err != nil {
		return fmt.Errorf("redis volume tracker: %w", err)
	}
	return nil
}

// buildDispatcher exercises the full wiring path a long-running deployment
// would use at startup, without starting one: every collaborator
// dispatcher.New requires, followed by Initialize (which bootstraps the
// installing principal as Owner and registers cfg's policies). Limits use
// Redis-backed trackers when cfg.Redis.Addr is set, so more than one
// dispatcher process can share daily-volume and cooldown state; proposals
// persist to cfg.Database when its DSN is set, so a restart does not lose
// pending threshold approvals.
func buildDispatcher(ctx context.Context, cfg *config.Config) error {
	roles := role.NewStore()
	policyStore := policy.NewStore()
	var err error

	var proposals proposal.ProposalStore
	if cfg.Database.DSN != "" {
		db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening %s: %w", cfg.Database.Driver, err)
		}
		sqlStore := proposal.NewSQLStore(db, clockid.NewSequence())
		if err := sqlStore.Init(ctx); err != nil {
			return fmt.Errorf("initializing proposal schema: %w", err)
		}
		proposals = sqlStore
	} else {
		proposals = proposal.NewStore(clockid.NewSequence())
	}

	var auditLog *audit.Log
	if cfg.Audit.RootSecretEnv != "" {
		secret := os.Getenv(cfg.Audit.RootSecretEnv)
		if secret == "" {
			return fmt.Errorf("audit.root_secret_env %q is set but empty", cfg.Audit.RootSecretEnv)
		}
		auditLog, err = audit.NewKeyedLog(clockid.NewSequence(), []byte(secret))
		if err != nil {
			return fmt.Errorf("deriving audit hmac key: %w", err)
		}
	} else {
		auditLog = audit.NewLog(clockid.NewSequence())
	}

	var volume limits.VolumeTracker
	var cooldown limits.CooldownTracker
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		volume = limits.NewRedisVolumeTracker(client, "chainguard:volume")
		cooldown = limits.NewRedisCooldownTracker(client, "chainguard")
	} else {
		mem := limits.NewInMemory()
		volume = mem
		cooldown = mem
	}

	sgnr, err := signer.NewEd25519Signer()
	if err != nil {
		return err
	}

	var rpc rpcadapter.Adapter = rpcadapter.AlwaysFailAdapter{Err: fmt.Errorf("doctor: no live rpc endpoint")}
	if cfg.RPC.URL != "" {
		rpc = rpcadapter.NewHTTPAdapter(rpcadapter.HTTPConfig{URL: cfg.RPC.URL, RequestsPerSecond: cfg.RPC.RequestsPerSecond, Burst: cfg.RPC.Burst})
	}

	d := dispatcher.New(roles, policyStore, proposals, auditLog, volume, cooldown, sgnr, rpc, clockid.WallClock{})

	cel, err := celeval.New()
	if err != nil {
		return err
	}
	d.CELEval = cel.Eval

	if err := d.Initialize(principal.New("doctor-check"), cfg); err != nil {
		return fmt.Errorf("initializing dispatcher: %w", err)
	}

	return nil
}
