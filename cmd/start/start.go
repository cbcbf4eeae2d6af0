package start

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/caesium-cloud/pipeline/api"
	"github.com/caesium-cloud/pipeline/internal/notify"
	"github.com/caesium-cloud/pipeline/internal/task"
	"github.com/caesium-cloud/pipeline/internal/worker"
	"github.com/caesium-cloud/pipeline/pkg/db"
	"github.com/caesium-cloud/pipeline/pkg/env"
	"github.com/caesium-cloud/pipeline/pkg/log"

	_ "github.com/caesium-cloud/pipeline/internal/ingest"
)

const (
	usage   = "start"
	short   = "Start the pipeline API and worker pool"
	long    = "This command runs the pipeline engine's HTTP API and durable-queue worker pool together"
	example = "pipeline start"
)

// Cmd runs the API and the worker pool in the same process, mirroring
// the teacher's cmd/start.
var Cmd = &cobra.Command{
	Use:        usage,
	Short:      short,
	Long:       long,
	Aliases:    []string{"s"},
	SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
	Example:    example,
	RunE:       startAPIAndWorker,
}

// WorkerCmd runs only the durable-queue worker pool, for deployments
// that scale the worker fleet independently of the API.
var WorkerCmd = &cobra.Command{
	Use:     "worker",
	Short:   "Start only the pipeline worker pool",
	Long:    "This command runs the durable job-queue worker pool without the HTTP API",
	Example: "pipeline worker",
	RunE:    startWorkerOnly,
}

func startAPIAndWorker(cmd *cobra.Command, args []string) error {
	return run(cmd.Context(), true)
}

func startWorkerOnly(cmd *cobra.Command, args []string) error {
	return run(cmd.Context(), false)
}

func run(parentCtx context.Context, withAPI bool) error {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT)
	defer signal.Stop(signalChan)

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT:
				log.Info("gracefully shutting down due to SIGINT signal")
				cancel()
				return
			}
		}
	}()

	gdb, err := db.Connection()
	if err != nil {
		return fmt.Errorf("open database connection: %w", err)
	}

	log.Info("migrating database")
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	notifyPool, err := db.NotifyPool(ctx)
	if err != nil {
		return fmt.Errorf("open notify connection pool: %w", err)
	}
	if notifyPool != nil {
		defer notifyPool.Close()
	}

	vars := env.Variables()
	errs := make(chan error, 2)

	nodeID, err := os.Hostname()
	if err != nil || nodeID == "" {
		nodeID = uuid.NewString()
	}

	claimer := worker.NewClaimer(nodeID, gdb, vars.WorkerLeaseTTL)

	log.Info("reaping abandoned tasks from a prior crash")
	if err := claimer.ReapAbandoned(ctx); err != nil {
		return fmt.Errorf("reap abandoned tasks: %w", err)
	}

	sweeper := cron.New()
	// A second, independent reclaim sweep: the worker's own poll loop
	// already calls ReclaimExpired every tick, but this catches
	// abandoned leases on a node whose worker pool died outright while
	// its API process (and this cron) kept running.
	if err := sweeper.AddFunc("@every 1m", func() {
		if err := claimer.ReclaimExpired(ctx); err != nil {
			log.Error("scheduled lease reclaim failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule lease reclaim sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	if withAPI {
		go func() {
			log.Info("spinning up api")
			errs <- api.Start(gdb, notifyPool)
		}()
	}

	go func() {
		log.Info("launching worker pool", "node_id", nodeID, "size", vars.WorkerCount)
		errs <- runWorker(ctx, gdb, claimer, notifyPool, vars, nodeID)
	}()

	defer func() {
		if withAPI {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				log.Error("api shutdown failure", "error", err)
			}
		}
	}()

	return <-errs
}

// runWorker wires a Claimer, Pool, and the runtime task executor into
// a Worker and blocks on Run until ctx is canceled. taskTimeout is
// derived from the lease TTL (no separate env var exists for it, per
// spec.md §9's environment-input list): it is twice the TTL. The lease
// is renewed while the System task runs; once taskTimeout elapses the
// executor stops waiting on the task and marks it Failed.
func runWorker(ctx context.Context, gdb *gorm.DB, claimer *worker.Claimer, notifyPool *pgxpool.Pool, vars env.Environment, nodeID string) error {
	var publisher notify.Publisher
	if notifyPool != nil {
		publisher = notify.New(notifyPool)
	}

	executor := worker.NewRuntimeExecutor(gdb, task.Default(), claimer, publisher, vars.WorkerLeaseTTL*2, vars.WorkerLeaseTTL)
	pool := worker.NewPool(vars.WorkerCount, nodeID)
	w := worker.NewWorker(claimer, pool, vars.WorkerPollInterval, executor)

	return w.Run(ctx)
}
