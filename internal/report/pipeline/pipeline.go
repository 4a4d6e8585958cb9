package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/internal/report/events"
	"github.com/stpericial/stpericial-backend/internal/report/generator"
	"github.com/stpericial/stpericial-backend/internal/report/lock"
	"github.com/stpericial/stpericial-backend/internal/report/mailer"
	"github.com/stpericial/stpericial-backend/internal/report/metrics"
	"github.com/stpericial/stpericial-backend/internal/report/renderer"
	"github.com/stpericial/stpericial-backend/pkg/config"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/logger"
)

const tracerName = "github.com/stpericial/stpericial-backend/internal/report/pipeline"

// Stage names used for spans, metrics and logs
const (
	StageAggregate = "aggregate"
	StageDraft     = "draft"
	StagePersist   = "persist"
	StageRender    = "render"
	StageSign      = "sign"
	StageDeliver   = "deliver"
)

// Run outcomes recorded in metrics
const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeConflict = "conflict"
)

// Default bounds applied when the configuration leaves them unset
const (
	DefaultBatchConcurrency = 4
	DefaultMaxChars         = 1500
	// MaxExpertChars matches the storage limit on expert report descriptions
	MaxExpertChars = 1000
)

// Assembler joins a case with everything recorded about it
type Assembler interface {
	Assemble(ctx context.Context, caseID string) (*domain.Assembly, error)
}

// GeneralReportStore persists general reports
type GeneralReportStore interface {
	Create(ctx context.Context, report *domain.GeneralReport) error
	GetByID(ctx context.Context, id string) (*domain.GeneralReport, error)
	Finalize(ctx context.Context, id string, sig domain.Signature, signedAt time.Time) error
	MarkSent(ctx context.Context, id string) error
}

// ExpertReportStore persists expert reports
type ExpertReportStore interface {
	Create(ctx context.Context, report *domain.ExpertReport) error
	GetByID(ctx context.Context, id string) (*domain.ExpertReport, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.ExpertReport, error)
	Finalize(ctx context.Context, id string, sig domain.Signature, signedAt time.Time) error
	MarkSent(ctx context.Context, id string) error
}

// EvidenceReader loads evidence items
type EvidenceReader interface {
	GetByID(ctx context.Context, id string) (*domain.EvidenceItem, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.EvidenceItem, error)
}

// VictimReader loads victims by id
type VictimReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]domain.VictimRecord, error)
}

// UserReader resolves report authors
type UserReader interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// DocumentRenderer turns a view into a PDF
type DocumentRenderer interface {
	Render(ctx context.Context, v *renderer.View, w io.Writer) error
	RenderBytes(ctx context.Context, v *renderer.View) ([]byte, error)
}

// DocumentSigner signs canonical report text
type DocumentSigner interface {
	Sign(content string) (domain.Signature, error)
	Verify(content string, sig domain.Signature) bool
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Aggregator     Assembler
	GeneralReports GeneralReportStore
	ExpertReports  ExpertReportStore
	Evidence       EvidenceReader
	Victims        VictimReader
	Users          UserReader
	Generator      generator.Generator
	Renderer       DocumentRenderer
	Signer         DocumentSigner
	Mailer         mailer.Mailer
	Locker         lock.Locker
	Events         *events.ReportEventPublisher
	Metrics        *metrics.Metrics
}

// Options tune a Pipeline
type Options struct {
	BatchConcurrency int
	MaxChars         int
	Clock            func() time.Time
}

// OptionsFromConfig derives Options from service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchConcurrency: cfg.Pipeline.BatchConcurrency,
		MaxChars:         cfg.Generator.MaxChars,
	}
}

// Pipeline orchestrates report generation, finalization and delivery.
// Every run is detached from the caller's cancellation and holds a per
// report lock for its whole duration.
type Pipeline struct {
	deps   Deps
	opts   Options
	tracer trace.Tracer
	logger *logger.Logger
}

// New creates a Pipeline
func New(deps Deps, opts Options, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemory()
	}
	if deps.Events == nil {
		deps.Events = events.NewReportEventPublisher(nil, log)
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		tracer: otel.Tracer(tracerName),
		logger: log.WithComponent("pipeline"),
	}
}

func (p *Pipeline) now() time.Time {
	return p.opts.Clock().UTC().Truncate(time.Second)
}

// expertMaxChars is the draft budget for expert reports
func (p *Pipeline) expertMaxChars() int {
	if p.opts.MaxChars > MaxExpertChars {
		return MaxExpertChars
	}
	return p.opts.MaxChars
}

// run executes fn under the lock for key, detached from the caller's
// cancellation, inside a span named after operation.
func (p *Pipeline) run(ctx context.Context, kind domain.Kind, operation, key string, fn func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "report."+operation, trace.WithAttributes(
		attribute.String("report.kind", string(kind)),
		attribute.String("report.lock_key", key),
	))
	defer span.End()

	release, err := p.deps.Locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			p.deps.Metrics.IncRun(string(kind), operation, outcomeConflict)
			span.SetStatus(codes.Error, "run in progress")
			appErr := apperrors.Conflict("a run for " + key + " is in progress")
			appErr.MessageKey = "errors.run_in_progress"
			return appErr
		}
		p.deps.Metrics.IncRun(string(kind), operation, outcomeFailed)
		span.RecordError(err)
		return apperrors.Internal("run lock unavailable").WithCause(err)
	}
	defer release()

	if err := fn(ctx); err != nil {
		p.deps.Metrics.IncRun(string(kind), operation, outcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
		return err
	}
	p.deps.Metrics.IncRun(string(kind), operation, outcomeOK)
	return nil
}

// stage times one pipeline stage in its own span
func (p *Pipeline) stage(ctx context.Context, kind domain.Kind, name string, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "report.stage."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.deps.Metrics.ObserveStage(string(kind), name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

func lockKey(kind domain.Kind, id string) string {
	return string(kind) + ":" + id
}

func caseLockKey(kind domain.Kind, caseID string) string {
	return string(kind) + ":case:" + caseID
}

// storedSignature rebuilds the signature persisted on a record
func storedSignature(value, keyID *string) (domain.Signature, bool) {
	if value == nil || *value == "" {
		return domain.Signature{}, false
	}
	sig := domain.Signature{Value: *value}
	if keyID != nil {
		sig.KeyID = *keyID
	}
	return sig, true
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += n
	return n, err
}
