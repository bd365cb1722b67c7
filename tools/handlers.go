package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/config"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/elicit"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/errs"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/keychain"
	"github.com/mongodb-labs/mongodb-mcp-broker/internal/session"
	"github.com/mongodb-labs/mongodb-mcp-broker/metrics"
	"github.com/mongodb-labs/mongodb-mcp-broker/tracing"
)

// Invocation carries the per-call context a handler needs beyond its typed
// arguments.
type Invocation struct {
	Request *mcp.CallToolRequest
	Session *session.Session
}

// Handler executes a tool after all gating and validation has passed. The
// returned string becomes the text content of the tool result.
type Handler[Args any] func(ctx context.Context, inv *Invocation, args Args) (string, error)

// Validator is implemented by argument types that carry constraints beyond
// what the generated schema expresses.
type Validator interface {
	Validate() error
}

// SessionResolver maps an incoming request to its broker session.
type SessionResolver func(req *mcp.CallToolRequest) *session.Session

// ConfirmerFactory builds the elicitation confirmer for a request. Tests
// substitute a canned confirmer.
type ConfirmerFactory func(req *mcp.CallToolRequest) elicit.Confirmer

// Dispatcher wraps tool handlers with the invocation pipeline: feature gate,
// disabled set, read-only gate, confirmation, argument validation, execution,
// error translation, and telemetry. Errors never propagate past it; they are
// rendered as error results.
type Dispatcher struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions SessionResolver
	confirm  ConfirmerFactory
	redact   func(string) string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithConfirmer overrides how confirmation prompts are delivered.
func WithConfirmer(f ConfirmerFactory) DispatcherOption {
	return func(d *Dispatcher) { d.confirm = f }
}

// NewDispatcher creates a Dispatcher bound to the given configuration.
func NewDispatcher(cfg *config.Config, sessions SessionResolver, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		logger:   slog.Default(),
		sessions: sessions,
		confirm: func(req *mcp.CallToolRequest) elicit.Confirmer {
			return &elicit.SessionConfirmer{Session: req.Session}
		},
		redact: keychain.Global().Redact,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a tool to the MCP server with the full dispatch pipeline
// around its handler.
func Register[Args any](d *Dispatcher, server *mcp.Server, spec ToolSpec, handler Handler[Args]) {
	tool := buildTool(spec)

	mcp.AddTool(server, tool, func(ctx context.Context, req *mcp.CallToolRequest, args Args) (result *mcp.CallToolResult, _ any, _ error) {
		ctx, span := tracing.StartSpan(ctx, "mcp.tool."+spec.Name)
		defer span.End()
		tracing.AddToolAttributes(span, spec.Name, spec.Category, spec.OperationType)

		metrics.ToolCallsInFlight.WithLabelValues(spec.Name).Inc()
		defer metrics.ToolCallsInFlight.WithLabelValues(spec.Name).Dec()

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				metrics.PanicsRecovered.WithLabelValues(spec.Name).Inc()
				d.logger.Error("Panic recovered",
					"tool", spec.Name,
					"panic", rec,
					"stack", string(debug.Stack()))
				result = d.errorResult(spec, start, span, errs.Newf(errs.CodeUnexpected, "internal error: %v", rec))
			}
		}()

		sess := d.sessions(req)
		if sess != nil {
			sess.Touch()
		}

		if err := d.gate(spec); err != nil {
			return d.errorResult(spec, start, span, err), nil, nil
		}

		declined, err := d.confirmIfRequired(ctx, req, spec)
		if err != nil {
			return d.errorResult(spec, start, span, err), nil, nil
		}
		if declined {
			d.finish(spec, start, span, "declined", nil)
			return textResult(fmt.Sprintf(
				"The %s operation was not confirmed by the user and was not executed.", spec.Name)), nil, nil
		}

		if err := validateArgs(rawArguments(req), args); err != nil {
			return d.errorResult(spec, start, span, err), nil, nil
		}

		text, err := handler(ctx, &Invocation{Request: req, Session: sess}, args)
		if err != nil {
			return d.errorResult(spec, start, span, err), nil, nil
		}

		d.finish(spec, start, span, "success", sess)
		return textResult(text), nil, nil
	})
}

// gate applies the pre-execution policy checks in order: feature gate,
// disabled set, read-only.
func (d *Dispatcher) gate(spec ToolSpec) error {
	for _, feature := range spec.RequiredFeatures {
		if !d.cfg.FeatureEnabled(feature) {
			return errs.Newf(errs.CodeFeatureDisabled,
				"the %s tool requires the %q preview feature; enable it with --previewFeatures %s",
				spec.Name, feature, feature)
		}
	}
	if d.cfg.ToolDisabled(spec.Name, spec.Category, spec.OperationType) {
		return errs.Newf(errs.CodeToolDisabled, "the %s tool is disabled by configuration", spec.Name)
	}
	if d.cfg.ReadOnly && spec.Writes() {
		return errs.Newf(errs.CodeForbiddenWriteOperation,
			"the %s tool performs a %s operation, which is not allowed in read-only mode", spec.Name, spec.OperationType)
	}
	return nil
}

// confirmIfRequired elicits user confirmation for tools listed in
// confirmationRequiredTools. Returns declined=true when the user said no.
func (d *Dispatcher) confirmIfRequired(ctx context.Context, req *mcp.CallToolRequest, spec ToolSpec) (bool, error) {
	if !d.cfg.ConfirmationRequired(spec.Name) {
		return false, nil
	}
	confirmed, err := d.confirm(req).Confirm(ctx,
		fmt.Sprintf("Confirm running the %s tool? This operation may be destructive.", spec.Name))
	if err != nil {
		return false, errs.Wrap(errs.CodeConfirmationDeclined,
			fmt.Sprintf("could not obtain confirmation for the %s tool", spec.Name), err)
	}
	return !confirmed, nil
}

// rawArguments returns the call arguments as JSON bytes.
func rawArguments(req *mcp.CallToolRequest) []byte {
	if req == nil || req.Params == nil {
		return nil
	}
	switch a := any(req.Params.Arguments).(type) {
	case json.RawMessage:
		return a
	case []byte:
		return a
	case nil:
		return nil
	default:
		b, _ := json.Marshal(a)
		return b
	}
}

// validateArgs rejects unknown top-level arguments, then runs the argument
// type's own Validate when it has one. The schema layer has already checked
// types and required fields.
func validateArgs[Args any](raw []byte, args Args) error {
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		var probe Args
		if err := dec.Decode(&probe); err != nil {
			return errs.Wrap(errs.CodeInvalidArguments, "invalid arguments", err)
		}
	}
	if v, ok := any(args).(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// errorResult renders an error as a tool result, redacting registered
// secrets from the message.
func (d *Dispatcher) errorResult(spec ToolSpec, start time.Time, span trace.Span, err error) *mcp.CallToolResult {
	code := errs.CodeOf(err)
	if errs.IsValidation(err) {
		code = errs.CodeInvalidArguments
	}
	if d.cfg.TelemetryEnabled() {
		metrics.RecordToolError(spec.Name, string(code))
	}
	tracing.RecordError(span, err)
	span.SetStatus(codes.Error, string(code))
	d.finish(spec, start, span, "failure", nil)

	d.logger.Error("Tool failed", "tool", spec.Name, "error_code", string(code), "error", d.redact(err.Error()))

	res := textResult(fmt.Sprintf("Error running %s: %s", spec.Name, d.redact(err.Error())))
	res.IsError = true
	return res
}

// finish records the per-call metrics unless telemetry is disabled, and
// always writes the "Tool executed" log event.
func (d *Dispatcher) finish(spec ToolSpec, start time.Time, span trace.Span, status string, sess *session.Session) {
	duration := time.Since(start).Seconds()
	if d.cfg.TelemetryEnabled() {
		metrics.RecordToolCall(spec.Name, spec.Category, spec.OperationType, duration, status == "success")
	}
	span.SetAttributes(attribute.Float64("mcp.tool.duration_seconds", duration))

	attrs := []any{"tool", spec.Name, "category", spec.Category, "operation_type", spec.OperationType,
		"status", status, "duration_ms", time.Since(start).Milliseconds()}
	if sess != nil {
		attrs = append(attrs, "session", sess.ID, "auth_type", sess.AuthType())
	}
	d.logger.Info("Tool executed", attrs...)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
