package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"voxelpath.ai/internal/persistence/indexdb"
	persistlog "voxelpath.ai/internal/persistence/log"
	"voxelpath.ai/internal/sim/nav/planner"
	"voxelpath.ai/internal/sim/tuning"
)

func main() {
	var (
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: built-in defaults)")
		size         = flag.Int("size", 96, "world border radius in cells (0 uses tuning world.boundary_r)")
		seed         = flag.Int64("seed", 1337, "base world seed; run i uses seed+i")
		obstacles    = flag.Int("obstacles", 150, "obstacle density in permille")
		runs         = flag.Int("runs", 16, "number of scenarios")
		concurrency  = flag.Int("concurrency", 4, "scenarios planned in parallel")
		goalDist     = flag.Int("goal_dist", 64, "goal distance from spawn in cells")
		failPermille = flag.Int("fail_permille", 20, "chance per move of an injected execution failure")
		slipPermille = flag.Int("slip_permille", 10, "chance per move of an injected sideways slip")
		segments     = flag.Int("segments", 16, "max planning segments per scenario")
		diagonals    = flag.Bool("diagonals", true, "allow diagonal moves")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite index")
		metricsAddr  = flag.String("metrics_addr", "", "serve prometheus metrics on this address (empty to disable)")
		dump         = flag.String("dump", "", "print a recorded searches-*.jsonl.zst log and exit")
		verbose      = flag.Bool("v", false, "log every search")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[pathbench] ", log.LstdFlags|log.Lmicroseconds)

	if p := strings.TrimSpace(*dump); p != "" {
		if err := dumpSearches(os.Stdout, p); err != nil {
			logger.Fatalf("dump: %v", err)
		}
		return
	}

	tune := tuning.Defaults()
	if tp := strings.TrimSpace(*tuningPath); tp != "" {
		t, err := tuning.Load(tp)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = t
	}

	ctx, cancel := signalContext()
	defer cancel()

	if addr := strings.TrimSpace(*metricsAddr); addr != "" {
		srv := serveMetrics(addr, logger)
		defer func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
	}

	searchLog := persistlog.NewSearchLogger(*dataDir)
	defer func() {
		if err := searchLog.Close(); err != nil {
			logger.Printf("close search log: %v", err)
		}
		if n, err := searchLog.Errors(); n > 0 {
			logger.Printf("search log: %d write errors (last: %v)", n, err)
		}
	}()
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "pathbench.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
	}
	rec := planner.MultiRecorder(searchLog, recorderOrNil(idx))

	var plannerLogger *log.Logger
	if *verbose {
		plannerLogger = log.New(os.Stdout, "[planner] ", log.LstdFlags|log.Lmicroseconds)
	}

	results := make([]result, *runs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*concurrency, 1))
	for i := range *runs {
		sc := scenario{
			ID:           i,
			Seed:         *seed + int64(i),
			Size:         *size,
			Obstacles:    *obstacles,
			GoalDist:     *goalDist,
			FailPermille: *failPermille,
			SlipPermille: *slipPermille,
			MaxSegments:  *segments,
			Diagonals:    *diagonals,
		}
		g.Go(func() error {
			res, err := runScenario(gctx, sc, tune, rec, plannerLogger)
			if err != nil {
				return fmt.Errorf("run %d: %w", sc.ID, err)
			}
			results[i] = res
			logger.Printf("run=%d goal=%s reached=%t final=%s searches=%d expanded=%d moves=%d failures=%d retries=%d reconnects=%d replans=%d elapsed=%s",
				res.ID, res.Goal, res.Reached, res.Final, res.Searches, res.Expanded, res.Moves,
				res.Failures, res.Retries, res.Reconnects, res.Replans, res.Elapsed.Round(time.Millisecond))
			return nil
		})
	}
	runErr := g.Wait()

	reached := 0
	for _, r := range results {
		if r.Reached {
			reached++
		}
	}
	logger.Printf("reached %d/%d goals", reached, *runs)

	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("close index: %v", err)
		}
		st := idx.Stats()
		if st.DropSearchTotal > 0 || st.DropFailureTotal > 0 || st.WriteErrorTotal > 0 {
			logger.Printf("index drops: searches=%d failures=%d write_errors=%d", st.DropSearchTotal, st.DropFailureTotal, st.WriteErrorTotal)
		}
		if err := printIndexTotals(filepath.Join(*dataDir, "index", "pathbench.sqlite"), logger); err != nil {
			logger.Printf("index totals: %v", err)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatalf("%v", runErr)
	}
}

// recorderOrNil keeps a nil index from becoming a non-nil interface.
func recorderOrNil(idx *indexdb.SQLiteIndex) planner.Recorder {
	if idx == nil {
		return nil
	}
	return idx
}

func serveMetrics(addr string, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server: %v", err)
		}
	}()
	return srv
}

// printIndexTotals reopens the index once the writer has drained and logs
// the all-time counts it holds.
func printIndexTotals(path string, logger *log.Logger) error {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	byStatus, err := idx.SearchSummary(ctx)
	if err != nil {
		return err
	}
	byKind, err := idx.FailureCounts(ctx)
	if err != nil {
		return err
	}
	logger.Printf("index totals: searches=%v failures=%v", byStatus, byKind)
	return nil
}

func dumpSearches(w io.Writer, path string) error {
	records, err := persistlog.ReadSearches(path)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, r := range records {
		counts[r.Status]++
		fmt.Fprintf(w, "%s %-8s %-10s %-16s start=(%d,%d,%d) expanded=%d len=%d cost=%.2f eps=%g elapsed=%.1fms goal=%s\n",
			r.Time.Format(time.RFC3339), r.Planner, r.Status, r.Reason,
			r.Start[0], r.Start[1], r.Start[2], r.Expanded, r.PathLen, r.Cost, r.Epsilon, r.ElapsedMs, r.Goal)
	}
	fmt.Fprintf(w, "%d searches: complete=%d partial=%d no_path=%d cancelled=%d\n",
		len(records), counts["complete"], counts["partial"], counts["no_path"], counts["cancelled"])
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
