// Package debug implements the session-scoped parse and transform
// operations behind the debug API.
package debug

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/render"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/session"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/version"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Operation names used in metrics, spans and logs
const (
	OpParse          = "parse"
	OpTransform      = "transform"
	OpCurrent        = "current"
	OpReset          = "reset"
	OpNewSession     = "new_session"
	OpKnowledgeQuery = "knowledge_query"
)

// ParseStage turns rule text and raw logs into a record
type ParseStage interface {
	Parse(ctx context.Context, rules, logs string) (*types.Record, error)
	Name() string
}

// TransformStage applies an OML program to a record. It must not modify
// its input.
type TransformStage interface {
	Transform(ctx context.Context, oml string, rec *types.Record) (*types.Record, error)
	Name() string
}

// ParseRequest asks for logs to be parsed with rules
type ParseRequest struct {
	Rules    string
	Logs     string
	Encoding string
}

// TransformRequest asks for the session record to be transformed
type TransformRequest struct {
	OML      string
	Encoding string
}

// KnowledgeQueryRequest is an SQL query against a knowledge table
type KnowledgeQueryRequest struct {
	ConnectionID int
	Table        string
	SQL          string
}

// View describes a session's record after an operation
type View struct {
	SessionID     string               `json:"session_id"`
	Fields        []render.ParsedField `json:"fields"`
	Encoding      render.Encoding      `json:"encoding"`
	CanonicalText string               `json:"canonical_text"`
	// FormatJSON is always the json rendering, for clients that only
	// display JSON
	FormatJSON string `json:"format_json"`
}

// Config wires a Controller. Store, Parser and Transformer are required.
type Config struct {
	Store           *session.Store
	Parser          ParseStage
	Transformer     TransformStage
	Metrics         *metrics.Collector
	Tracer          trace.Tracer
	Logger          *logging.Logger
	DefaultEncoding string
}

// Controller sequences parse and transform runs per session
type Controller struct {
	store       *session.Store
	parser      ParseStage
	transformer TransformStage
	metrics     *metrics.Collector
	tracer      trace.Tracer
	logger      *logging.Logger
	defaultEnc  render.Encoding
}

// New creates a controller
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Parser == nil || cfg.Transformer == nil {
		return nil, fmt.Errorf("parse and transform stages are required")
	}

	enc, err := render.ParseEncoding(cfg.DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("invalid default encoding: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("logdebug")
	}

	return &Controller{
		store:       cfg.Store,
		parser:      cfg.Parser,
		transformer: cfg.Transformer,
		metrics:     cfg.Metrics,
		tracer:      tracer,
		logger:      logger.WithComponent("debug"),
		defaultEnc:  enc,
	}, nil
}

// Parse runs the parse stage and installs its record in the session.
// On failure the session keeps whatever it held before.
func (c *Controller) Parse(ctx context.Context, key string, req ParseRequest) (*View, error) {
	key = SessionKey(key)
	ctx, span := tracing.TraceOperation(ctx, c.tracer, OpParse, key)
	defer span.End()

	if strings.TrimSpace(req.Rules) == "" {
		return nil, c.fail(ctx, OpParse, key, invalidRequest("rules must not be empty"))
	}
	enc, err := c.encoding(req.Encoding)
	if err != nil {
		return nil, c.fail(ctx, OpParse, key, err)
	}

	var view *View
	waitStart := time.Now()
	err = c.store.Update(ctx, key, func(ctx context.Context, _ *types.Record) (*types.Record, error) {
		c.observeWait(waitStart)
		defer c.observeDuration(OpParse, time.Now())

		rec, err := c.runParse(ctx, req)
		if err != nil {
			return nil, err
		}
		view, err = c.view(ctx, key, rec, enc)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, c.fail(ctx, OpParse, key, err)
	}

	c.succeed(ctx, OpParse, key, view)
	return view, nil
}

// Transform applies OML to the session's record and installs the result.
// An empty session yields ErrNoParseResult without running the stage.
func (c *Controller) Transform(ctx context.Context, key string, req TransformRequest) (*View, error) {
	key = SessionKey(key)
	ctx, span := tracing.TraceOperation(ctx, c.tracer, OpTransform, key)
	defer span.End()

	if strings.TrimSpace(req.OML) == "" {
		return nil, c.fail(ctx, OpTransform, key, invalidRequest("oml must not be empty"))
	}
	enc, err := c.encoding(req.Encoding)
	if err != nil {
		return nil, c.fail(ctx, OpTransform, key, err)
	}

	var view *View
	waitStart := time.Now()
	err = c.store.Update(ctx, key, func(ctx context.Context, current *types.Record) (*types.Record, error) {
		c.observeWait(waitStart)
		if current == nil {
			return nil, noParseResult()
		}
		defer c.observeDuration(OpTransform, time.Now())

		rec, err := c.runTransform(ctx, req.OML, current)
		if err != nil {
			return nil, err
		}
		view, err = c.view(ctx, key, rec, enc)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, c.fail(ctx, OpTransform, key, err)
	}

	c.succeed(ctx, OpTransform, key, view)
	return view, nil
}

// Current renders the session's record without changing it
func (c *Controller) Current(ctx context.Context, key, encoding string) (*View, error) {
	key = SessionKey(key)
	ctx, span := tracing.TraceOperation(ctx, c.tracer, OpCurrent, key)
	defer span.End()

	enc, err := c.encoding(encoding)
	if err != nil {
		return nil, c.fail(ctx, OpCurrent, key, err)
	}

	rec, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, c.fail(ctx, OpCurrent, key, err)
	}
	if rec == nil {
		return nil, c.fail(ctx, OpCurrent, key, noParseResult())
	}

	view, err := c.view(ctx, key, rec, enc)
	if err != nil {
		return nil, c.fail(ctx, OpCurrent, key, err)
	}

	c.succeed(ctx, OpCurrent, key, view)
	return view, nil
}

// Reset drops the session once any running operation on it completes.
// It reports whether the session existed.
func (c *Controller) Reset(ctx context.Context, key string) (bool, error) {
	key = SessionKey(key)
	ctx, span := tracing.TraceOperation(ctx, c.tracer, OpReset, key)
	defer span.End()

	existed, err := c.store.Delete(ctx, key)
	if err != nil {
		return false, c.fail(ctx, OpReset, key, err)
	}

	c.succeed(ctx, OpReset, key, nil)
	return existed, nil
}

// NewSession allocates an empty session under a fresh random key
func (c *Controller) NewSession(ctx context.Context) (string, error) {
	key := uuid.NewString()
	ctx, span := tracing.TraceOperation(ctx, c.tracer, OpNewSession, key)
	defer span.End()

	err := c.store.Update(ctx, key, func(context.Context, *types.Record) (*types.Record, error) {
		return nil, nil
	})
	if err != nil {
		return "", c.fail(ctx, OpNewSession, key, err)
	}

	c.succeed(ctx, OpNewSession, key, nil)
	return key, nil
}

// KnowledgeQuery is not supported by this service and always reports so
func (c *Controller) KnowledgeQuery(ctx context.Context, req KnowledgeQueryRequest) error {
	ctx, span := tracing.TraceOperation(ctx, c.tracer, OpKnowledgeQuery, "")
	defer span.End()

	err := newError(KindNotImplemented, "knowledge queries are not supported", nil)
	return c.fail(ctx, OpKnowledgeQuery, "", err)
}

// Version reports the component and engine versions
func (c *Controller) Version() version.Info {
	return version.Get()
}

// SessionKey resolves an empty key to the default session
func SessionKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return session.DefaultKey
	}
	return key
}

func (c *Controller) encoding(name string) (render.Encoding, error) {
	if name == "" {
		return c.defaultEnc, nil
	}
	enc, err := render.ParseEncoding(name)
	if err != nil {
		return "", newError(KindInvalidRequest, err.Error(), err)
	}
	return enc, nil
}

func (c *Controller) runParse(ctx context.Context, req ParseRequest) (rec *types.Record, err error) {
	ctx, span := tracing.TraceStage(ctx, c.tracer, OpParse, c.parser.Name())
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, newError(KindInternal, "", fmt.Errorf("parse stage panic: %v", r))
		}
	}()

	rec, err = c.parser.Parse(ctx, req.Rules, req.Logs)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, newError(KindParseFailed, err.Error(), err)
	}
	if rec == nil {
		return nil, newError(KindInternal, "", fmt.Errorf("parse stage returned no record"))
	}
	tracing.SetAttributes(ctx, attribute.String("record.source", rec.Source), attribute.Int("record.fields", rec.Len()))
	return rec, nil
}

func (c *Controller) runTransform(ctx context.Context, oml string, current *types.Record) (rec *types.Record, err error) {
	ctx, span := tracing.TraceStage(ctx, c.tracer, OpTransform, c.transformer.Name())
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, newError(KindInternal, "", fmt.Errorf("transform stage panic: %v", r))
		}
	}()

	rec, err = c.transformer.Transform(ctx, oml, current)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, newError(KindTransformFailed, err.Error(), err)
	}
	if rec == nil {
		return nil, newError(KindInternal, "", fmt.Errorf("transform stage returned no record"))
	}
	tracing.SetAttributes(ctx, attribute.Int("record.fields", rec.Len()))
	return rec, nil
}

func (c *Controller) view(ctx context.Context, key string, rec *types.Record, enc render.Encoding) (*View, error) {
	_, span := tracing.TraceRender(ctx, c.tracer, string(enc), rec.Len())
	defer span.End()

	text, err := render.Render(rec, enc)
	if err != nil {
		return nil, newError(KindInternal, "", fmt.Errorf("render %s: %w", enc, err))
	}
	formatJSON := text
	if enc != render.JSON {
		if formatJSON, err = render.Render(rec, render.JSON); err != nil {
			return nil, newError(KindInternal, "", fmt.Errorf("render json: %w", err))
		}
	}
	if c.metrics != nil {
		c.metrics.RenderedBytes.WithLabelValues(string(enc)).Observe(float64(len(text)))
	}

	return &View{
		SessionID:     key,
		Fields:        render.Fields(rec),
		Encoding:      enc,
		CanonicalText: text,
		FormatJSON:    formatJSON,
	}, nil
}

func (c *Controller) succeed(ctx context.Context, op, key string, view *View) {
	if c.metrics != nil {
		c.metrics.StageRuns.WithLabelValues(op, "success").Inc()
		c.metrics.SessionsActive.Set(float64(c.store.Len()))
	}

	event := c.logger.Debug().Str("operation", op).Str("session", key)
	if view != nil {
		event = event.Int("fields", len(view.Fields)).Str("encoding", string(view.Encoding))
	}
	event.Msg("Debug operation completed")
}

// fail classifies err, records it and returns the *Error handed to callers
func (c *Controller) fail(ctx context.Context, op, key string, err error) error {
	var derr *Error
	if !errors.As(err, &derr) {
		derr = newError(KindInternal, "", err)
	}

	if c.metrics != nil {
		c.metrics.StageRuns.WithLabelValues(op, string(derr.Kind)).Inc()
		c.metrics.SessionsActive.Set(float64(c.store.Len()))
	}
	tracing.RecordError(ctx, derr)

	logger := c.logger.WithSession(key)
	if derr.Kind == KindInternal {
		logger.Error().Err(derr).Str("operation", op).Msg("Debug operation failed")
	} else {
		logger.Debug().Err(derr).Str("operation", op).Msg("Debug operation rejected")
	}
	return derr
}

func (c *Controller) observeWait(start time.Time) {
	if c.metrics != nil {
		c.metrics.SessionWaitDuration.Observe(time.Since(start).Seconds())
	}
}

func (c *Controller) observeDuration(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.StageDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func noParseResult() *Error {
	return newError(KindNoParseResult, "session has no parse result; run parse first", nil)
}
