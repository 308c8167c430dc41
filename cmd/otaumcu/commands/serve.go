package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/silvair/otaumcu/internal/config"
	"github.com/silvair/otaumcu/internal/dfu"
	"github.com/silvair/otaumcu/internal/dispatcher"
	"github.com/silvair/otaumcu/internal/events"
	"github.com/silvair/otaumcu/internal/faults"
	"github.com/silvair/otaumcu/internal/metrics"
	"github.com/silvair/otaumcu/internal/modem"
	"github.com/silvair/otaumcu/internal/nvm"
	"github.com/silvair/otaumcu/internal/pagemem"
	"github.com/silvair/otaumcu/internal/protocol"
	"github.com/silvair/otaumcu/internal/transport"
)

var useBLE bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the emulated MCU's dispatch loop",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&useBLE, "ble", false, "advertise a BLE GATT peripheral instead of running with an inert in-memory loopback")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	go serveMetrics(cfg.MetricsAddr, reg, logger)

	nvmStore := nvm.Open(cfg.NVMPath, logger)
	registry := faults.NewRegistry(logger)
	for _, fs := range cfg.Faults {
		point, spec, err := fs.ToRegistrySpec()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		registry.Register(point, spec)
	}

	mem := pagemem.New(pagemem.Config{
		AppDataPath:       cfg.AppDataPath,
		FirmwarePath:      cfg.FirmwarePath,
		SHA256Path:        cfg.SHA256Path,
		SupportedPageSize: cfg.SupportedPageSize,
		MaxImageSize:      cfg.MaxImageSize,
	}, logger)

	sink := events.NewLoggingMetricsSink(logger, m)

	t, err := newTransport(cfg, logger)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer t.Close()

	frameSender := &dispatcherSender{t: t}

	dfuManager := dfu.NewManager(frameSender, sink, mem, nvmStore, registry, m, logger)
	if cfg.ExpectedAppDataPath != "" {
		expected, err := os.ReadFile(cfg.ExpectedAppDataPath)
		if err != nil {
			return fmt.Errorf("serve: read expected app data: %w", err)
		}
		dfuManager.ExpectedAppData = expected
	}
	dfuFSM := dfu.NewFSM(dfuManager, dfuManager.InitialState())

	models := make([]protocol.ModelDesc, len(cfg.DefaultModels))
	for i, md := range cfg.DefaultModels {
		models[i] = protocol.ModelDesc{ModelID: md.ModelID}
	}
	modemFSM := modem.NewFSM(frameSender, sink, models, logger)

	disp := dispatcher.New(t, dfuFSM, modemFSM, logger)

	dfuFSM.Start()
	modemFSM.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	runErr := make(chan error, 1)
	go func() { runErr <- disp.Run() }()

	select {
	case <-stop:
		logger.Info("shutdown signal received")
		return t.Close()
	case err := <-runErr:
		var fatal *modem.FatalError
		if errors.As(err, &fatal) {
			logger.Error("terminating on fatal modem error", "err", fatal)
			return fatal
		}
		return err
	}
}

// dispatcherSender adapts a transport.Transport into the dfu.Sender and
// modem.Sender interfaces both FSMs expect.
type dispatcherSender struct {
	t transport.Transport
}

func (s *dispatcherSender) Send(op protocol.Opcode, payload []byte) {
	_ = s.t.Send(op, payload)
}

// newTransport picks the wireless link. Without --ble this falls back to an
// unconnected Loopback (nothing ever injects a frame into it) so the rest of
// the wiring can still be exercised without a real adapter present; real
// deployments pass --ble.
func newTransport(cfg config.Config, logger *slog.Logger) (transport.Transport, error) {
	if useBLE {
		return transport.NewBLE(transport.BLEConfig{LocalName: cfg.BLELocalName}, logger)
	}
	logger.Warn("no --ble flag given, running with an inert loopback transport")
	return transport.NewLoopback(16), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "err", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
