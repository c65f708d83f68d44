// memtrackbench generates concurrent allocation load against a tracker
// hierarchy and exposes the resulting accounting on /metrics.
//
// It exercises the full lib/memorytracker surface: the query -> user -> global
// chain, limit rejections with compensating unwind, suppressed bookkeeping
// allocations and per-tracker peak logging on shutdown.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/valyala/fastrand"

	"github.com/hzjiangm/memtracker/lib/envflag"
	"github.com/hzjiangm/memtracker/lib/flagutil"
	"github.com/hzjiangm/memtracker/lib/logger"
	"github.com/hzjiangm/memtracker/lib/memory"
	"github.com/hzjiangm/memtracker/lib/memorytracker"
	"github.com/hzjiangm/memtracker/lib/procutil"
)

var (
	httpListenAddr = flag.String("httpListenAddr", ":8429", "TCP address for exposing /metrics")
	trackerConfig  = flag.String("trackerConfig", "", "Optional path to YAML config with the tracker hierarchy. The config must define `global` and `user` trackers. "+
		"If empty, the hierarchy is built from -memory.allowedPercent, -memory.allowedBytes, -userLimit and -queryLimit")
	workers        = flag.Int("workers", 4, "The number of concurrent workers charging allocations against the tracker hierarchy")
	userLimit      = flagutil.NewBytes("userLimit", 0, "Limit for the user-level tracker. Zero means no limit. Ignored if -trackerConfig is set")
	queryLimit     = flagutil.NewBytes("queryLimit", 0, "Limit for every per-worker query tracker. Zero means no limit")
	maxAllocBytes  = flagutil.NewBytes("maxAllocBytes", 1024*1024, "The maximum size of a single simulated allocation")
	maxOutstanding = flagutil.NewBytes("maxOutstanding", 32*1024*1024, "The amount of attributed memory a worker holds before releasing it")
)

var rejectedAllocsTotal = metrics.NewCounter(`memtrackbench_rejected_allocs_total`)

func main() {
	// Write flags and help message to stdout, since it is easier to grep or pipe.
	flag.CommandLine.SetOutput(os.Stdout)
	envflag.Parse()
	logger.Init()

	if maxAllocBytes.N <= 0 || maxAllocBytes.N > (1<<32)-1 {
		logger.Fatalf("-maxAllocBytes must be in the range [1..4GiB); got %d", maxAllocBytes.N)
	}

	var h *memorytracker.Hierarchy
	var global, user *memorytracker.Tracker
	if *trackerConfig != "" {
		var err error
		h, err = memorytracker.LoadHierarchy(*trackerConfig)
		if err != nil {
			logger.Fatalf("cannot load -trackerConfig: %s", err)
		}
		global = h.Tracker("global")
		user = h.Tracker("user")
		if global == nil || user == nil {
			logger.Fatalf("-trackerConfig must define `global` and `user` trackers")
		}
	} else {
		global = memorytracker.New(memory.Allowed())
		global.SetDescription("(global)")
		global.SetMetric(`memtracker_usage_bytes{scope="global"}`)
		user = memorytracker.New(userLimit.N)
		user.SetNext(global)
		user.SetDescription("(for user)")
		user.SetMetric(`memtracker_usage_bytes{scope="user"}`)
	}

	http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	server := &http.Server{
		Addr:     *httpListenAddr,
		ErrorLog: logger.StdErrorLogger(),
	}
	go func() {
		logger.Infof("exposing metrics at http://%s/metrics", *httpListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatalf("cannot serve -httpListenAddr=%q: %s", *httpListenAddr, err)
		}
	}()

	logger.Infof("starting %d workers", *workers)
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, user, stopCh)
		}(i)
	}

	sig := procutil.WaitForSigterm()
	logger.Infof("received signal %s; stopping workers", sig)
	close(stopCh)
	wg.Wait()
	if err := server.Close(); err != nil {
		logger.Errorf("cannot close http server: %s", err)
	}
	if h != nil {
		h.MustClose()
	} else {
		user.MustClose()
		global.MustClose()
	}
}

func runWorker(workerID int, parent *memorytracker.Tracker, stopCh <-chan struct{}) {
	query := memorytracker.New(queryLimit.N)
	query.SetNext(parent)
	query.SetDescription(fmt.Sprintf("(for query at worker-%d)", workerID))
	query.SetMetric(fmt.Sprintf(`memtracker_usage_bytes{scope="query",worker="%d"}`, workerID))
	defer query.MustClose()

	var cell memorytracker.Cell
	cell.Set(query)

	var rng fastrand.RNG
	rng.Seed(uint32(workerID) + 1)
	maxSize := uint32(maxAllocBytes.N)
	outstanding := int64(0)
	for iteration := 0; ; iteration++ {
		select {
		case <-stopCh:
			cell.Free(outstanding)
			return
		default:
		}

		size := int64(rng.Uint32n(maxSize)) + 1
		if err := cell.Alloc(size); err != nil {
			// The rejected size is already charged. Unwind it together with
			// the outstanding memory in order to relieve the pressure.
			cell.Free(size + outstanding)
			outstanding = 0
			rejectedAllocsTotal.Inc()
			logger.Errorf("worker-%d: %s", workerID, err)
			continue
		}
		outstanding += size
		if outstanding > maxOutstanding.N {
			cell.Free(outstanding)
			outstanding = 0
		}

		if iteration%1000 == 0 {
			// Bookkeeping allocations of the worker itself must not be
			// attributed to the query tracker.
			restore := cell.Suppress()
			_ = cell.Alloc(4096)
			cell.Free(4096)
			restore()
		}
	}
}
