package protocol

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/tcprest/internal/envelope"
	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/invoker"
	"github.com/marmos91/tcprest/internal/logger"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/wire"
	"github.com/marmos91/tcprest/pkg/metrics"
	"github.com/marmos91/tcprest/pkg/registry"
)

// tracerName identifies dispatcher spans in the trace backend.
const tracerName = "tcprest/dispatch"

// Result is the dispatcher's verdict on one request line.
type Result struct {
	// Reply is the encoded reply line without trailing newline. Empty means
	// nothing is written (blank input line).
	Reply string

	// Close tells the transport to drop the connection after writing: the
	// legacy error path has no status channel, so the closed socket is the
	// signal.
	Close bool
}

// Dispatcher routes one request line through verification, parsing,
// invocation and encoding. It holds only immutable collaborators and is
// safe for concurrent use by every connection of a server.
type Dispatcher struct {
	mode     Mode
	security *wire.SecurityConfig

	parserV1 *ParserV1
	parserV2 *ParserV2
	codecV1  *CodecV1
	codecV2  *CodecV2

	metrics metrics.RPCMetrics
}

// NewDispatcher wires a dispatcher from its collaborators. A nil security
// config disables every check; a nil compression config disables the gzip
// envelope on replies; metrics may be nil.
func NewDispatcher(
	resources *registry.Registry,
	mappers *mapper.Registry,
	security *wire.SecurityConfig,
	compression *envelope.Config,
	mode Mode,
	m metrics.RPCMetrics,
) *Dispatcher {
	return &Dispatcher{
		mode:     mode,
		security: security,
		parserV1: &ParserV1{Resources: resources, Mappers: mappers, Security: security},
		parserV2: &ParserV2{Resources: resources, Mappers: mappers, Security: security},
		codecV1:  &CodecV1{Mappers: mappers, Compression: compression, Security: security},
		codecV2:  &CodecV2{Mappers: mappers, Compression: compression, Security: security},
		metrics:  m,
	}
}

// HandleLine processes one request frame and produces the reply line.
// Every terminal state yields exactly one written line, except a blank
// input which yields none.
func (d *Dispatcher) HandleLine(ctx context.Context, line string) Result {
	start := time.Now()

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Result{}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rpc.dispatch")
	defer span.End()

	t := wire.SplitTrailing(line)
	isV2 := strings.HasPrefix(t.Content, V2Prefix)

	if err := wire.VerifyTrailers(t, d.security); err != nil {
		logger.WarnCtx(ctx, "frame rejected by trailer verification", logger.Err(err))
		return d.fail(ctx, isV2, err)
	}

	switch {
	case isV2 && d.mode == ModeV1:
		err := fault.Protocol("server accepts only legacy frames")
		return Result{Reply: d.codecV1.EncodeError(err), Close: true}
	case !isV2 && d.mode == ModeV2:
		return d.fail(ctx, true, fault.Protocol("server accepts only V2 frames"))
	}

	if isV2 {
		return d.handleV2(ctx, span, t.Content, start)
	}
	return d.handleV1(ctx, span, t.Content, start)
}

// fail encodes an error on the right channel: a status reply for the
// current format, a diagnostic plus connection close for the legacy one.
func (d *Dispatcher) fail(ctx context.Context, asV2 bool, err error) Result {
	if asV2 {
		reply, encErr := d.codecV2.EncodeError(err)
		if encErr != nil {
			logger.ErrorCtx(ctx, "failed to encode error reply", logger.Err(encErr))
			return Result{Close: true}
		}
		return Result{Reply: reply}
	}
	return Result{Reply: d.codecV1.EncodeError(err), Close: true}
}

func (d *Dispatcher) handleV2(ctx context.Context, span trace.Span, content string, start time.Time) Result {
	framed := content[len(V2Prefix):]
	d.recordCompression(framed, "in")
	inner, err := envelope.Decode(framed, d.maxInflate())
	if err != nil {
		return d.fail(ctx, true, err)
	}

	req, err := d.parserV2.Parse(inner)
	if err != nil {
		logger.WarnCtx(ctx, "request rejected", logger.Version(VersionV2), logger.Err(err))
		return d.fail(ctx, true, err)
	}
	ctx = d.requestContext(ctx, span, req)

	value, invokeErr := d.invoke(ctx, req)

	var reply string
	var encErr error
	status := int(fault.StatusSuccess)
	if invokeErr != nil {
		status = int(fault.StatusFor(fault.KindOf(invokeErr)))
		reply, encErr = d.codecV2.EncodeError(invokeErr)
	} else {
		reply, encErr = d.codecV2.EncodeResult(value)
	}
	if encErr != nil {
		// The result value itself was unencodable; report that instead.
		logger.ErrorCtx(ctx, "reply encoding failed", logger.Err(encErr))
		status = int(fault.StatusFor(fault.KindOf(encErr)))
		return d.fail(ctx, true, encErr)
	}

	d.recordCompression(strings.TrimPrefix(reply, V2Prefix), "out")
	d.observe(ctx, req, VersionV2, status, start)
	return Result{Reply: reply}
}

func (d *Dispatcher) handleV1(ctx context.Context, span trace.Span, content string, start time.Time) Result {
	d.recordCompression(content, "in")
	inner, err := envelope.Decode(content, d.maxInflate())
	if err != nil {
		return Result{Reply: d.codecV1.EncodeError(err), Close: true}
	}

	req, err := d.parserV1.Parse(inner)
	if err != nil {
		logger.WarnCtx(ctx, "request rejected", logger.Version(VersionV1), logger.Err(err))
		return Result{Reply: d.codecV1.EncodeError(err), Close: true}
	}
	ctx = d.requestContext(ctx, span, req)

	value, invokeErr := d.invoke(ctx, req)
	if invokeErr != nil {
		d.observe(ctx, req, VersionV1, int(fault.StatusFor(fault.KindOf(invokeErr))), start)
		logger.InfoCtx(ctx, "invocation failed, closing connection",
			logger.Kind(fault.KindOf(invokeErr).String()), logger.Err(invokeErr))
		return Result{Reply: d.codecV1.EncodeError(invokeErr), Close: true}
	}

	reply, encErr := d.codecV1.EncodeResult(value)
	if encErr != nil {
		return Result{Reply: d.codecV1.EncodeError(encErr), Close: true}
	}

	d.recordCompression(reply, "out")
	d.observe(ctx, req, VersionV1, int(fault.StatusSuccess), start)
	return Result{Reply: reply}
}

// recordCompression counts frames that actually rode the gzip envelope.
// framed is the payload with its envelope prefix, version marker stripped.
func (d *Dispatcher) recordCompression(framed, direction string) {
	if d.metrics != nil && strings.HasPrefix(framed, envelope.PrefixGzip) {
		d.metrics.RecordCompression(direction)
	}
}

// invoke runs the resolved request with in-flight accounting.
func (d *Dispatcher) invoke(ctx context.Context, req *Request) (any, error) {
	if d.metrics != nil {
		d.metrics.RecordRequestStart(req.Meta.Class, req.Meta.Method)
		defer d.metrics.RecordRequestEnd(req.Meta.Class, req.Meta.Method)
	}
	return invoker.Invoke(ctx, invoker.Call{
		Resource: req.Resource,
		Method:   req.Method,
		Args:     req.Args,
	})
}

// requestContext enriches the context with the resolved target for logs and
// the span.
func (d *Dispatcher) requestContext(ctx context.Context, span trace.Span, req *Request) context.Context {
	span.SetAttributes(
		attribute.String("rpc.resource", req.Meta.Class),
		attribute.String("rpc.method", req.Meta.Method),
		attribute.String("rpc.version", req.Version),
	)
	if lc := logger.FromContext(ctx); lc != nil {
		return logger.WithContext(ctx, lc.WithTarget(req.Meta.Class, req.Meta.Method).WithVersion(req.Version))
	}
	return ctx
}

// observe emits the per-request log line and metrics sample.
func (d *Dispatcher) observe(ctx context.Context, req *Request, version string, status int, start time.Time) {
	elapsed := time.Since(start)
	logger.DebugCtx(ctx, "request completed",
		logger.Status(status),
		logger.DurationMs(float64(elapsed.Microseconds())/1000.0))
	if d.metrics != nil {
		d.metrics.RecordRequest(req.Meta.Class, req.Meta.Method, version, elapsed, status)
	}
}

func (d *Dispatcher) maxInflate() int64 {
	if d.security == nil {
		return 0
	}
	return d.security.MaxDecompressedBytes
}
