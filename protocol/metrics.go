package protocol

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
)

const (
	tracerName         = "prism-board/protocol"
	intentMetricsEvent = "board.intent.metrics"
)

// Stages reported in error_stage.
const (
	stageValidate = "validate"
	stageRoom     = "room"
	stageLock     = "lock"
	stageLoad     = "load"
	stageApply    = "apply"
	stageSave     = "save"
	stageEncode   = "encode"
)

type intentMetrics struct {
	logger *log.Logger
	span   trace.Span

	start      time.Time
	intent     string
	board      string
	conn       string
	version    int64
	lockWait   time.Duration
	load       time.Duration
	save       time.Duration
	errorStage string
}

func newIntentMetrics(ctx context.Context, logger *log.Logger, in domain.Intent, conn string) (*intentMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "board."+in.Type,
		trace.WithAttributes(
			attribute.String("board.project", in.ProjectID),
			attribute.String("board.name", in.BoardName),
			attribute.String("board.intent", in.Type),
		),
	)
	return &intentMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		intent: in.Type,
		board:  in.ProjectID + "/" + in.BoardName,
		conn:   conn,
	}, ctx
}

func (m *intentMetrics) ObserveLockWait(d time.Duration) { m.lockWait = d }

func (m *intentMetrics) ObserveLoad(d time.Duration) { m.load = d }

func (m *intentMetrics) ObserveSave(d time.Duration) { m.save = d }

func (m *intentMetrics) SetVersion(v int64) { m.version = v }

func (m *intentMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Finish writes the metrics entry and ends the span.
func (m *intentMetrics) Finish(err error) {
	if m == nil {
		return
	}
	fields := log.Fields{
		"intent":       m.intent,
		"board":        m.board,
		"conn":         m.conn,
		"lock_wait_ms": durationToMillis(m.lockWait),
		"load_ms":      durationToMillis(m.load),
		"save_ms":      durationToMillis(m.save),
		"total_ms":     durationToMillis(time.Since(m.start)),
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		if m.version > 0 {
			m.span.SetAttributes(attribute.Int64("board.version", m.version))
		}
		if err != nil {
			m.span.SetAttributes(attribute.String("board.error_stage", m.errorStage))
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	entry := m.logger.WithFields(fields)
	if err != nil && domain.ErrorCode(err) == domain.CodePersistence {
		entry.Warn(intentMetricsEvent)
		return
	}
	entry.Info(intentMetricsEvent)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
