package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Span attributes that may never be recorded. Payload-bearing keys carry
// phone numbers, message bodies or provider tokens.
var blockedAttributeKeys = map[attribute.Key]struct{}{
	"phone_number":      {},
	"to":                {},
	"from":              {},
	"message.body":      {},
	"access_token":      {},
	"refresh_token":     {},
	"client_secret":     {},
	"http.request.body": {},
}

func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error carrying only the error's type-level message
// when err may contain upstream payloads.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	var safe interface{ SafeMessage() string }
	if errors.As(err, &safe) {
		return errors.New(safe.SafeMessage())
	}
	return errors.New("internal_error")
}

func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
