package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func startTestSpan(t *testing.T) trace.Span {
	t.Helper()

	inst := newTestInstrumentation(t)
	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	t.Cleanup(func() { span.End() })
	return span
}

func TestRecordError(t *testing.T) {
	span := startTestSpan(t)

	RecordError(span, errors.New("test error"))
	RecordError(span, nil)
	RecordError(nil, errors.New("no span"))

	// Should not panic.
}

func TestSetSpanStatus(t *testing.T) {
	span := startTestSpan(t)

	SetSpanSuccess(span)
	SetSpanError(span, "bad request")

	SetSpanSuccess(nil)
	SetSpanError(nil, "nil span")
}

func TestSetSpanAttributes(t *testing.T) {
	span := startTestSpan(t)

	SetSpanAttributes(span,
		attribute.String(AttrClientID, "test-client"),
		attribute.String(AttrGrantType, "authorization_code"),
	)
	SetSpanAttributes(span)
	SetSpanAttributes(nil, attribute.String(AttrClientID, "test-client"))
}

func TestAddOAuthFlowAttributes(t *testing.T) {
	span := startTestSpan(t)

	AddOAuthFlowAttributes(span, "test-client", "test-user", "read write")
	AddOAuthFlowAttributes(span, "test-client-2", "", "")
	AddOAuthFlowAttributes(span, "", "test-user-2", "")
	AddOAuthFlowAttributes(nil, "test-client", "test-user", "read")
}

func TestAddProviderAttributes(t *testing.T) {
	span := startTestSpan(t)

	AddProviderAttributes(span, "github", "userinfo")
	AddProviderAttributes(nil, "github", "token")
}

func TestAddHTTPAttributes(t *testing.T) {
	span := startTestSpan(t)

	AddHTTPAttributes(span, "POST", "/token", 200)
	AddHTTPAttributes(span, "GET", "/authorize", 302)
	AddHTTPAttributes(nil, "GET", "/authorize", 400)
}
