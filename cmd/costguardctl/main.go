// costguardctl is a thin operator CLI for the cost-admission control
// plane: it loads a policy YAML file and replays a scripted hook sequence
// against it, printing the resulting decisions. Grounded on
// cmd/agentflow/main.go's flag-based subcommand dispatch and zap logger
// setup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/costguard/costguard/budget"
	"github.com/costguard/costguard/costconfig"
	"github.com/costguard/costguard/ctltypes"
	"github.com/costguard/costguard/lifecycle"
	"github.com/costguard/costguard/metrics"
	"github.com/costguard/costguard/policy"
	"github.com/costguard/costguard/pricing"
	"github.com/costguard/costguard/router"
	"github.com/costguard/costguard/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "simulate":
		runSimulate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`costguardctl - cost-admission control plane CLI

Usage:
  costguardctl simulate [--config costguard.yaml] --policy policy.yaml --tenant acme [--strand s1] [--workflow w1] [--model gpt-4o] [--prompt-tokens 1000] [--completion-tokens 500] [--prompt-text "..."]
  costguardctl version`)
}

func printVersion() {
	fmt.Printf("costguardctl %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
}

func runSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a costconfig YAML file (defaults + env overrides apply regardless)")
	policyPath := fs.String("policy", "", "path to a policy YAML file (overrides costconfig's policy.path)")
	tenant := fs.String("tenant", "", "tenant_id for the simulated run")
	strand := fs.String("strand", "", "strand_id for the simulated run")
	workflow := fs.String("workflow", "", "workflow_id for the simulated run")
	model := fs.String("model", "gpt-4o", "model used for the simulated model call")
	stage := fs.String("stage", "planning", "call stage used for routing")
	promptTokens := fs.Int64("prompt-tokens", 1000, "prompt tokens consumed by the simulated model call")
	completionTokens := fs.Int64("completion-tokens", 500, "completion tokens produced by the simulated model call")
	promptText := fs.String("prompt-text", "", "prompt text used for a before_model_call pre-flight cost estimate warning")
	_ = fs.Parse(args)

	cfg, err := costconfig.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if *policyPath != "" {
		cfg.Policy.Path = *policyPath
	}
	if cfg.Policy.Path == "" || *tenant == "" {
		fmt.Fprintln(os.Stderr, "simulate requires a policy path (--policy or config) and --tenant")
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Log.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	src := policy.NewYAMLFileSource(cfg.Policy.Path)
	ps, err := policy.NewStore(src, cfg.Policy.ReloadInterval, logger)
	if err != nil {
		logger.Fatal("failed to load policy store", zap.Error(err))
	}

	var st store.Store
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			DB:       cfg.Store.RedisDB,
			Password: cfg.Store.RedisPassword,
		})
		st = store.NewRedisStore(client, store.NewDefaultRetryer(logger))
	default:
		st = store.NewMemoryStore(cfg.Store.SweepInterval)
	}

	failureMode := budget.FailClosed
	if cfg.Budget.FailureMode == "fail_open" {
		failureMode = budget.FailOpen
	}
	tracker := budget.NewTracker(st, failureMode, logger)
	collector := metrics.NewCollector(cfg.Metrics.Namespace, nil, metrics.Options{IncludeRunID: cfg.Metrics.IncludeRunID})
	engine := lifecycle.New(ps, tracker, router.New(), collector, logger)

	ctx := context.Background()
	rc := &ctltypes.RunContext{
		TenantID:   *tenant,
		StrandID:   *strand,
		WorkflowID: *workflow,
		RunID:      uuid.NewString(),
	}

	admission, err := engine.AdmitRun(ctx, rc)
	if err != nil {
		logger.Fatal("admit_run failed", zap.Error(err))
	}
	fmt.Printf("admit_run: admitted=%v reason=%q\n", admission.Admitted, admission.Reason)
	if !admission.Admitted {
		return
	}

	tbl := ps.Snapshot().Pricing
	modelDecision, err := engine.BeforeModelCall(ctx, rc, *model, *stage, *promptText, tbl)
	if err != nil {
		logger.Fatal("before_model_call failed", zap.Error(err))
	}
	fmt.Printf("before_model_call: allowed=%v model=%q downgraded=%v reason=%q warnings=%v\n",
		modelDecision.Allowed, modelDecision.Model, modelDecision.WasDowngraded, modelDecision.Reason, modelDecision.Warnings)
	if !modelDecision.Allowed {
		return
	}

	effectiveModel := modelDecision.Model
	if effectiveModel == "" {
		effectiveModel = *model
	}

	rs, err := engine.AfterModelCall(ctx, rc, effectiveModel, pricing.Usage{
		PromptTokens:     *promptTokens,
		CompletionTokens: *completionTokens,
	}, tbl)
	if err != nil {
		logger.Fatal("after_model_call failed", zap.Error(err))
	}
	fmt.Printf("after_model_call: total_cost=%.4f\n", rs.TotalCost)

	final, err := engine.EndRun(ctx, rc, ctltypes.RunStatusCompleted)
	if err != nil {
		logger.Fatal("end_run failed", zap.Error(err))
	}
	fmt.Printf("end_run: status=%s total_cost=%.4f\n", final.Status, final.TotalCost)
}
