package events

import (
	"log/slog"

	"github.com/silvair/otaumcu/internal/dfu/dfustate"
	"github.com/silvair/otaumcu/internal/metrics"
	"github.com/silvair/otaumcu/internal/modem/modemstate"
)

// LoggingMetricsSink is the concrete Sink cmd/otaumcu wires: it logs every
// event via slog and feeds the Prometheus counters from SPEC_FULL.md §3.1.
// It never drives protocol decisions; it only observes them.
type LoggingMetricsSink struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLoggingMetricsSink builds a sink. m may be nil (metrics.NullMetrics()).
func NewLoggingMetricsSink(logger *slog.Logger, m *metrics.Metrics) *LoggingMetricsSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMetricsSink{logger: logger, metrics: m}
}

var _ Sink = (*LoggingMetricsSink)(nil)

func (s *LoggingMetricsSink) DFUStateChanged(new dfustate.State) {
	s.logger.Info("dfu state changed", "state", new.String())
}

func (s *LoggingMetricsSink) DFUInitialized(firmwareSize int, firmwareSHA256 [32]byte, appData []byte, progress int) {
	s.logger.Info("dfu initialized",
		"firmware_size", firmwareSize,
		"app_data_len", len(appData),
		"progress", progress,
	)
}

func (s *LoggingMetricsSink) DFUPageStored(firmwareOffset int) {
	s.logger.Info("dfu page stored", "firmware_offset", firmwareOffset)
	s.metrics.RecordPageStored(true)
	s.metrics.SetFirmwareOffset(firmwareOffset)
}

func (s *LoggingMetricsSink) DFUUpdateComplete() {
	s.logger.Info("dfu update complete")
	s.metrics.RecordUpdateCompleted()
}

func (s *LoggingMetricsSink) DFUFailed() {
	s.logger.Warn("dfu failed")
	s.metrics.RecordPageStored(false)
	s.metrics.RecordUpdateFailed()
}

func (s *LoggingMetricsSink) DFUUnexpectedMessage(opcode uint8) {
	s.logger.Warn("dfu unexpected message", "opcode", opcode)
}

func (s *LoggingMetricsSink) ModemStateChanged(new modemstate.State) {
	s.logger.Info("modem state changed", "state", new.String())
	s.metrics.RecordModemStateChange(new.String())
}

func (s *LoggingMetricsSink) ModemUnexpectedMessage(opcode uint8) {
	s.logger.Warn("modem unexpected message", "opcode", opcode)
}

func (s *LoggingMetricsSink) ModemFirmwareVersion(version []byte) {
	s.logger.Info("modem firmware version", "version", version)
}

func (s *LoggingMetricsSink) ModemDeviceUUID(uuid []byte) {
	s.logger.Info("modem device uuid", "uuid", uuid)
}

func (s *LoggingMetricsSink) ModemMeshMessage(opcode int, command []byte) {
	s.logger.Debug("modem mesh message", "opcode", opcode, "len", len(command))
}
