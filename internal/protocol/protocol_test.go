package protocol

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tcprest/internal/envelope"
	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/wire"
	"github.com/marmos91/tcprest/pkg/registry"
)

// Calculator is the canonical arithmetic fixture.
type Calculator struct{}

func (Calculator) Add(a, b int) int { return a + b }

// EchoService echoes nullable strings.
type EchoService struct{}

func (EchoService) Echo(s *string) *string { return s }

// Validator raises a business exception on bad input.
type Validator struct{}

func (Validator) ValidateAge(age int) error {
	if age < 0 {
		return fault.NewBusiness("ValidationException", "Age must be non-negative")
	}
	return nil
}

// NullPointerException mimics a foreign runtime failure type.
type NullPointerException struct{}

func (NullPointerException) Error() string { return "null" }

// Faulty produces server-side failures on demand.
type Faulty struct{}

func (Faulty) CauseNullPointer() error { return NullPointerException{} }
func (Faulty) Panic() string           { panic("unexpected state") }

// HelloWorldResource serves the legacy fixtures.
type HelloWorldResource struct{}

func (HelloWorldResource) HelloWorld() string { return "Hello, world!" }

// Blob returns large repetitive bodies for compression tests.
type Blob struct{}

func (Blob) Big() string   { return strings.Repeat("abcdefgh", 500) }
func (Blob) Small() string { return strings.Repeat("x", 50) }

func newResources(t *testing.T, mappers *mapper.Registry) *registry.Registry {
	t.Helper()
	reg := registry.New(mappers, false)
	require.NoError(t, reg.AddNamed("Calculator", Calculator{}))
	require.NoError(t, reg.AddNamed("Echo", EchoService{}))
	require.NoError(t, reg.AddNamed("Validator", Validator{}))
	require.NoError(t, reg.AddNamed("Faulty", Faulty{}))
	require.NoError(t, reg.AddNamed("HelloWorldResource", HelloWorldResource{}))
	require.NoError(t, reg.AddNamed("Blob", Blob{}))
	return reg
}

func newDispatcher(t *testing.T, mode Mode, security *wire.SecurityConfig, compression *envelope.Config) *Dispatcher {
	t.Helper()
	mappers := mapper.NewRegistry()
	return NewDispatcher(newResources(t, mappers), mappers, security, compression, mode, nil)
}

func TestDispatchAdd(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	res := d.HandleLine(context.Background(), "V2|0|{{Q2FsY3VsYXRvci9hZGQoSUkp}}|[NQ==,Mw==]")
	assert.Equal(t, "V2|0|0|{{OA==}}", res.Reply)
	assert.False(t, res.Close)
}

func TestDispatchEchoNull(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	res := d.HandleLine(context.Background(), "V2|0|{{RWNoby9lY2hvKExqYXZhL2xhbmcvU3RyaW5nOyk=}}|[~]")
	assert.Equal(t, "V2|0|0|null", res.Reply)
	assert.False(t, res.Close)
}

func TestDispatchBusinessException(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	meta := wire.EncodeComponent("Validator/validateAge(I)")
	arg := wire.EncodeComponent("-1")
	res := d.HandleLine(context.Background(), "V2|0|{{"+meta+"}}|["+arg+"]")

	assert.Equal(t, "V2|0|1|{{VmFsaWRhdGlvbkV4Y2VwdGlvbjogQWdlIG11c3QgYmUgbm9uLW5lZ2F0aXZl}}", res.Reply)
	assert.False(t, res.Close)
}

func TestDispatchServerError(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	meta := wire.EncodeComponent("Faulty/causeNullPointer()")
	res := d.HandleLine(context.Background(), "V2|0|{{"+meta+"}}|[]")

	assert.Equal(t, "V2|0|2|{{TnVsbFBvaW50ZXJFeGNlcHRpb246IG51bGw=}}", res.Reply)
	assert.False(t, res.Close)
}

func TestDispatchPanicBecomesServerError(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	meta := wire.EncodeComponent("Faulty/panic()")
	res := d.HandleLine(context.Background(), "V2|0|{{"+meta+"}}|[]")

	require.True(t, strings.HasPrefix(res.Reply, "V2|0|2|"))
	assert.False(t, res.Close)
}

func TestDispatchBlankLine(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	res := d.HandleLine(context.Background(), "\r\n")
	assert.Empty(t, res.Reply)
	assert.False(t, res.Close)
}

func TestDispatchUnknownResource(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	meta := wire.EncodeComponent("Nope/add(II)")
	res := d.HandleLine(context.Background(), "V2|0|{{"+meta+"}}|[NQ==,Mw==]")

	assert.True(t, strings.HasPrefix(res.Reply, "V2|0|3|"), res.Reply)
}

func TestDispatchArityMismatch(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	// Descriptor says two ints, array carries one.
	res := d.HandleLine(context.Background(), "V2|0|{{Q2FsY3VsYXRvci9hZGQoSUkp}}|[NQ==]")
	assert.True(t, strings.HasPrefix(res.Reply, "V2|0|3|"), res.Reply)
}

func TestDispatchModeV1RejectsV2(t *testing.T) {
	d := newDispatcher(t, ModeV1, nil, nil)

	res := d.HandleLine(context.Background(), "V2|0|{{Q2FsY3VsYXRvci9hZGQoSUkp}}|[NQ==,Mw==]")
	assert.True(t, res.Close)
	assert.False(t, strings.HasPrefix(res.Reply, "V2|"))
}

func TestDispatchModeV2RejectsV1(t *testing.T) {
	d := newDispatcher(t, ModeV2, nil, nil)

	res := d.HandleLine(context.Background(), "HelloWorldResource/helloWorld()")
	assert.False(t, res.Close)
	assert.True(t, strings.HasPrefix(res.Reply, "V2|0|3|"), res.Reply)
}

func TestDispatchLegacyBareCall(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	res := d.HandleLine(context.Background(), "HelloWorldResource/helloWorld()")
	assert.Equal(t, "0|Hello, world!", res.Reply)
	assert.False(t, res.Close)
}

func TestDispatchLegacyBareCallWithArgs(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	res := d.HandleLine(context.Background(), "Calculator/add(5,3)")
	assert.Equal(t, "0|8", res.Reply)
}

func TestDispatchV1Base64Form(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)
	mappers := mapper.NewRegistry()
	enc := &RequestEncoder{Mappers: mappers}

	line, err := enc.EncodeV1("Calculator", "add", []any{5, 3})
	require.NoError(t, err)

	res := d.HandleLine(context.Background(), line)
	assert.Equal(t, "0|8", res.Reply)
	assert.False(t, res.Close)
}

func TestDispatchV1ErrorClosesConnection(t *testing.T) {
	d := newDispatcher(t, ModeAuto, nil, nil)

	res := d.HandleLine(context.Background(), "Faulty/causeNullPointer()")
	assert.True(t, res.Close)
	assert.NotEmpty(t, res.Reply)
	assert.NotContains(t, res.Reply, "\n")
}

func TestDispatchChecksum(t *testing.T) {
	sec := &wire.SecurityConfig{Checksum: wire.ChecksumCRC32, RequireChecksum: true}
	d := newDispatcher(t, ModeAuto, sec, nil)
	mappers := mapper.NewRegistry()
	enc := &RequestEncoder{Mappers: mappers, Security: sec}

	line, err := enc.EncodeV2("Calculator", "add", "(II)", []any{5, 3})
	require.NoError(t, err)
	require.Contains(t, line, "|CHK:")

	res := d.HandleLine(context.Background(), line)
	require.True(t, strings.HasPrefix(res.Reply, "V2|0|0|"), res.Reply)
	assert.Contains(t, res.Reply, "|CHK:")

	// Tampering with the request flips verification into a failure reply.
	tampered := strings.Replace(line, "NQ==", "Ng==", 1)
	res = d.HandleLine(context.Background(), tampered)
	assert.True(t, strings.HasPrefix(res.Reply, "V2|0|2|"), res.Reply)

	// A frame without the mandated checksum is rejected too.
	bare := "V2|0|{{Q2FsY3VsYXRvci9hZGQoSUkp}}|[NQ==,Mw==]"
	res = d.HandleLine(context.Background(), bare)
	assert.True(t, strings.HasPrefix(res.Reply, "V2|0|2|"), res.Reply)
}

func TestDispatchWhitelist(t *testing.T) {
	sec := &wire.SecurityConfig{Whitelist: map[string]struct{}{"Echo": {}}}
	d := newDispatcher(t, ModeAuto, sec, nil)

	res := d.HandleLine(context.Background(), "V2|0|{{Q2FsY3VsYXRvci9hZGQoSUkp}}|[NQ==,Mw==]")
	assert.True(t, strings.HasPrefix(res.Reply, "V2|0|2|"), res.Reply)
}

func TestDispatchCompressedReply(t *testing.T) {
	comp := &envelope.Config{Enabled: true, Threshold: 1024}
	d := newDispatcher(t, ModeAuto, nil, comp)

	// 4000-byte repetitive body compresses.
	meta := wire.EncodeComponent("Blob/big()")
	res := d.HandleLine(context.Background(), "V2|0|{{"+meta+"}}|[]")
	require.True(t, strings.HasPrefix(res.Reply, "V2|1|"), res.Reply[:16])

	codec := &CodecV2{Mappers: mapper.NewRegistry()}
	resp, err := codec.DecodeResponse(res.Reply, reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("abcdefgh", 500), resp.Value)

	// 50-byte body stays raw.
	meta = wire.EncodeComponent("Blob/small()")
	res = d.HandleLine(context.Background(), "V2|0|{{"+meta+"}}|[]")
	assert.True(t, strings.HasPrefix(res.Reply, "V2|0|"), res.Reply[:8])
}

func TestDispatchCompressedRequest(t *testing.T) {
	comp := &envelope.Config{Enabled: true, Threshold: 16}
	d := newDispatcher(t, ModeAuto, nil, nil)
	mappers := mapper.NewRegistry()
	enc := &RequestEncoder{Mappers: mappers, Compression: comp}

	long := strings.Repeat("hello world ", 200)
	line, err := enc.EncodeV2("Echo", "echo", "(Ljava/lang/String;)", []any{long})
	require.NoError(t, err)

	res := d.HandleLine(context.Background(), line)
	codec := &CodecV2{Mappers: mappers}
	resp, err := codec.DecodeResponse(res.Reply, reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Equal(t, long, resp.Value)
}

// captureMetrics records pipeline observations for assertions.
type captureMetrics struct {
	compressed map[string]int
	requests   int
}

func newCaptureMetrics() *captureMetrics {
	return &captureMetrics{compressed: make(map[string]int)}
}

func (m *captureMetrics) RecordRequest(resource, method, version string, duration time.Duration, status int) {
	m.requests++
}
func (m *captureMetrics) RecordRequestStart(resource, method string)   {}
func (m *captureMetrics) RecordRequestEnd(resource, method string)     {}
func (m *captureMetrics) RecordFrameBytes(direction string, bytes int) {}
func (m *captureMetrics) RecordCompression(direction string)           { m.compressed[direction]++ }
func (m *captureMetrics) SetActiveConnections(count int32)             {}
func (m *captureMetrics) RecordConnectionAccepted()                    {}
func (m *captureMetrics) RecordConnectionClosed()                      {}
func (m *captureMetrics) RecordConnectionForceClosed()                 {}

func TestDispatchRecordsCompressionMetric(t *testing.T) {
	comp := &envelope.Config{Enabled: true, Threshold: 16}
	mappers := mapper.NewRegistry()
	m := newCaptureMetrics()
	d := NewDispatcher(newResources(t, mappers), mappers, nil, comp, ModeAuto, m)

	// Compressed reply counts one outbound frame.
	meta := wire.EncodeComponent("Blob/big()")
	res := d.HandleLine(context.Background(), "V2|0|{{"+meta+"}}|[]")
	require.True(t, strings.HasPrefix(res.Reply, "V2|1|"), res.Reply[:8])
	assert.Equal(t, 1, m.compressed["out"])
	assert.Equal(t, 0, m.compressed["in"])

	// Compressed request counts one inbound frame; the long echo reply
	// compresses too.
	enc := &RequestEncoder{Mappers: mapper.NewRegistry(), Compression: comp}
	line, err := enc.EncodeV2("Echo", "echo", "(Ljava/lang/String;)",
		[]any{strings.Repeat("hello world ", 200)})
	require.NoError(t, err)

	res = d.HandleLine(context.Background(), line)
	require.True(t, strings.HasPrefix(res.Reply, "V2|1|"), res.Reply[:8])
	assert.Equal(t, 1, m.compressed["in"])
	assert.Equal(t, 2, m.compressed["out"])
	assert.Equal(t, 2, m.requests)

	// Raw frames leave the counters alone.
	res = d.HandleLine(context.Background(), "V2|0|{{Q2FsY3VsYXRvci9hZGQoSUkp}}|[NQ==,Mw==]")
	require.True(t, strings.HasPrefix(res.Reply, "V2|0|0|"), res.Reply)
	assert.Equal(t, 1, m.compressed["in"])
	assert.Equal(t, 2, m.compressed["out"])
}

func TestEncodeParseRoundTrip(t *testing.T) {
	// Re-parsing an encoded frame reproduces the invocation inputs.
	mappers := mapper.NewRegistry()
	resources := newResources(t, mappers)
	enc := &RequestEncoder{Mappers: mappers}
	parser := &ParserV2{Resources: resources, Mappers: mappers}

	line, err := enc.EncodeV2("Calculator", "add", "(II)", []any{5, 3})
	require.NoError(t, err)

	content, err := envelope.Decode(strings.TrimPrefix(line, V2Prefix), 0)
	require.NoError(t, err)
	req, err := parser.Parse(content)
	require.NoError(t, err)

	assert.Equal(t, "Calculator", req.Meta.Class)
	assert.Equal(t, "add", req.Meta.Method)
	assert.Equal(t, "(II)", req.Meta.Descriptor)
	assert.Equal(t, []any{5, 3}, req.Args)
}

func TestSplitMeta(t *testing.T) {
	m, err := splitMeta("Calculator/add(II)")
	require.NoError(t, err)
	assert.Equal(t, Meta{Class: "Calculator", Method: "add", Descriptor: "(II)"}, m)

	m, err = splitMeta("com.example.Echo/echo(Ljava/lang/String;)")
	require.NoError(t, err)
	assert.Equal(t, "com.example.Echo", m.Class)
	assert.Equal(t, "echo", m.Method)
	assert.Equal(t, "(Ljava/lang/String;)", m.Descriptor)

	m, err = splitMeta("Faulty/causeNullPointer()")
	require.NoError(t, err)
	assert.Equal(t, "()", m.Descriptor)

	m, err = splitMeta("Service/method")
	require.NoError(t, err)
	assert.Empty(t, m.Descriptor)

	for _, bad := range []string{"", "noslash", "/method", "Class/", "Class/m(unclosed"} {
		_, err := splitMeta(bad)
		assert.Error(t, err, bad)
	}
}

func TestSplitArray(t *testing.T) {
	t.Run("empty array arity zero", func(t *testing.T) {
		texts, err := splitArray("[]", 0)
		require.NoError(t, err)
		assert.Empty(t, texts)
	})

	t.Run("empty array arity one is one empty string", func(t *testing.T) {
		texts, err := splitArray("[]", 1)
		require.NoError(t, err)
		require.Len(t, texts, 1)
		require.NotNil(t, texts[0])
		assert.Equal(t, "", *texts[0])
	})

	t.Run("empty array higher arity fails", func(t *testing.T) {
		_, err := splitArray("[]", 2)
		require.Error(t, err)
		assert.Equal(t, fault.KindProtocol, fault.KindOf(err))
	})

	t.Run("two empty strings", func(t *testing.T) {
		texts, err := splitArray("[,]", 2)
		require.NoError(t, err)
		require.Len(t, texts, 2)
		assert.Equal(t, "", *texts[0])
		assert.Equal(t, "", *texts[1])
	})

	t.Run("null token", func(t *testing.T) {
		texts, err := splitArray("[~,NQ==]", 2)
		require.NoError(t, err)
		assert.Nil(t, texts[0])
		assert.Equal(t, "5", *texts[1])
	})

	t.Run("count mismatch", func(t *testing.T) {
		_, err := splitArray("[NQ==,Mw==]", 3)
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, bad := range []string{"", "[", "]", "NQ=="} {
			_, err := splitArray(bad, 1)
			assert.Error(t, err, bad)
		}
	})
}

func TestCodecV2DecodeResponse(t *testing.T) {
	mappers := mapper.NewRegistry()
	codec := &CodecV2{Mappers: mappers}

	t.Run("success", func(t *testing.T) {
		resp, err := codec.DecodeResponse("V2|0|0|{{OA==}}", reflect.TypeOf(0))
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Status)
		assert.Equal(t, 8, resp.Value)
		assert.NoError(t, resp.Err)
	})

	t.Run("null body", func(t *testing.T) {
		resp, err := codec.DecodeResponse("V2|0|0|null", reflect.TypeOf(""))
		require.NoError(t, err)
		assert.Nil(t, resp.Value)
	})

	t.Run("business error", func(t *testing.T) {
		resp, err := codec.DecodeResponse(
			"V2|0|1|{{VmFsaWRhdGlvbkV4Y2VwdGlvbjogQWdlIG11c3QgYmUgbm9uLW5lZ2F0aXZl}}", nil)
		require.NoError(t, err)
		require.Error(t, resp.Err)

		var remote *fault.Remote
		require.ErrorAs(t, resp.Err, &remote)
		assert.Equal(t, fault.KindBusiness, remote.Kind)
		assert.Equal(t, "ValidationException", remote.RemoteType)
		assert.Equal(t, "Age must be non-negative", remote.Message)
		assert.True(t, fault.IsBusiness(resp.Err))
	})

	t.Run("server error", func(t *testing.T) {
		resp, err := codec.DecodeResponse("V2|0|2|{{TnVsbFBvaW50ZXJFeGNlcHRpb246IG51bGw=}}", nil)
		require.NoError(t, err)

		var remote *fault.Remote
		require.ErrorAs(t, resp.Err, &remote)
		assert.Equal(t, fault.KindServer, remote.Kind)
		assert.Equal(t, "NullPointerException", remote.RemoteType)
		assert.False(t, fault.IsBusiness(resp.Err))
	})

	t.Run("protocol error", func(t *testing.T) {
		body := "{{" + wire.EncodeComponent("bad frame") + "}}"
		resp, err := codec.DecodeResponse("V2|0|3|"+body, nil)
		require.NoError(t, err)
		require.Error(t, resp.Err)
		assert.Equal(t, fault.KindProtocol, fault.KindOf(resp.Err))
	})

	t.Run("malformed", func(t *testing.T) {
		for _, bad := range []string{"nope", "V2|0|9|{{}}", "V2|0|0|garbage"} {
			_, err := codec.DecodeResponse(bad, nil)
			assert.Error(t, err, bad)
		}
	})
}

func TestCodecV1DecodeResponse(t *testing.T) {
	mappers := mapper.NewRegistry()
	codec := &CodecV1{Mappers: mappers}

	t.Run("plain value", func(t *testing.T) {
		got, err := codec.DecodeResponse("0|8", reflect.TypeOf(0))
		require.NoError(t, err)
		assert.Equal(t, 8, got)
	})

	t.Run("null marker", func(t *testing.T) {
		got, err := codec.DecodeResponse("0|NULL", reflect.TypeOf(""))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("envelope stripped before decode", func(t *testing.T) {
		// A compressed reply decodes to the value, not to the raw prefix.
		payload := strings.Repeat("9", 2000)
		framed, err := envelope.Encode(payload, &envelope.Config{Enabled: true, Threshold: 10})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(framed, envelope.PrefixGzip))

		got, err := codec.DecodeResponse(framed, reflect.TypeOf(""))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})
}

func TestReturnType(t *testing.T) {
	add, _ := reflect.TypeOf(Calculator{}).MethodByName("Add")
	assert.Equal(t, reflect.TypeOf(0), ReturnType(add.Type))

	validate, _ := reflect.TypeOf(Validator{}).MethodByName("ValidateAge")
	assert.Nil(t, ReturnType(validate.Type))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("auto")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	m, err = ParseMode("V1")
	require.NoError(t, err)
	assert.Equal(t, ModeV1, m)

	m, err = ParseMode("v2")
	require.NoError(t, err)
	assert.Equal(t, ModeV2, m)

	_, err = ParseMode("v3")
	assert.Error(t, err)
}
