package main

import (
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Import for pprof, only enabled via config
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreledger/hybridcore/engine"
	"github.com/coreledger/hybridcore/eventbus"
	"github.com/coreledger/hybridcore/external"
	"github.com/coreledger/hybridcore/ulogger"
)

// Name used by build script for the binary. (Please keep on single line)
const progname = "hybridcore"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func init() {
	gocore.SetInfo(progname, version, commit)
}

func main() {
	logger := ulogger.New(progname)

	if statsAddr, ok := gocore.Config().Get("stats_addr"); ok && statsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Infof("stats/pprof listening on %s", statsAddr)
			if err := http.ListenAndServe(statsAddr, nil); err != nil { //nolint:gosec
				logger.Errorf("stats server stopped: %v", err)
			}
		}()
	}

	opts := engine.DefaultOptions()

	activationHeight, _ := gocore.Config().GetInt("hybrid_activation_height", int(opts.HybridActivationHeight))
	opts.HybridActivationHeight = uint32(activationHeight)

	ctorStart, _ := gocore.Config().GetInt("ctor_start_time", int(opts.CTORStartTime))
	opts.CTORStartTime = int64(ctorStart)

	startingLimit, _ := gocore.Config().GetInt("starting_block_size_limit", int(opts.StartingBlockSizeLimit))
	opts.StartingBlockSizeLimit = uint64(startingLimit)

	maintenanceSeconds, _ := gocore.Config().GetInt("maintenance_interval_seconds", 60)
	opts.MaintenanceInterval = time.Duration(maintenanceSeconds) * time.Second

	bus := eventbus.New(1024)

	core, err := engine.New(
		logger,
		bus,
		opts,
		external.ReferencePoWOracle{},
		external.ReferenceSignatureVerifier{},
		external.ReferenceMerkleComputer{},
		external.ReferenceTxCodec{},
		external.SystemClock{},
	)
	if err != nil {
		logger.Fatalf("failed to assemble engine: %v", err)
	}

	// Surface the structured event stream through the logger until a real
	// transport subscriber is wired.
	events, unsubscribe := bus.Subscribe()
	go func() {
		for e := range events {
			switch e.Level {
			case eventbus.LevelError:
				logger.Errorf("[%s] %s %v", e.Subsystem, e.Code, e.Fields)
			case eventbus.LevelWarn:
				logger.Warnf("[%s] %s %v", e.Subsystem, e.Code, e.Fields)
			default:
				logger.Debugf("[%s] %s %v", e.Subsystem, e.Code, e.Fields)
			}
		}
	}()

	core.Start()
	logger.Infof("%s started (version=%s commit=%s)", progname, version, commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("received %v, shutting down", sig)

	core.Stop()
	unsubscribe()
}
