package apierr

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrorInfo is the normalized failure record rendered by console callers.
// Empty strings and a nil HTTPStatus mean "absent".
type ErrorInfo struct {
	Code              string `json:"code"`
	Summary           string `json:"summary"`
	Detail            string `json:"detail"`
	RequestID         string `json:"request_id"`
	IdempotencyKey    string `json:"idempotency_key"`
	IdempotencyStatus string `json:"idempotency_status"`
	HTTPStatus        *int   `json:"http_status"`
}

// PayloadCarrier is implemented by errors that hold a decoded response body.
type PayloadCarrier interface {
	ErrorPayload() any
}

// StatusCarrier is implemented by errors that hold an HTTP status code.
type StatusCarrier interface {
	ErrorStatus() int
}

// IdempotencyCarrier is implemented by errors that know the idempotency key
// they were issued under and the upstream's dedup verdict.
type IdempotencyCarrier interface {
	ErrorIdempotency() (key, status string)
}

// statusAliases lists the numeric status fields accepted, in lookup order.
var statusAliases = []string{"status", "statusCode", "status_code", "httpStatus", "http_status"}

// Extract collapses an arbitrary failure value into an ErrorInfo. It accepts
// errors (unwrapping carriers), decoded JSON objects, raw JSON bytes or
// strings, and Envelope values. It never panics; unknown shapes yield a
// best-effort partial record.
func Extract(v any) (info ErrorInfo) {
	defer func() {
		// Malformed input must never escape as a panic.
		_ = recover()
	}()

	switch x := v.(type) {
	case nil:
		return info
	case ErrorInfo:
		return x
	case *ErrorInfo:
		if x != nil {
			return *x
		}
		return info
	case error:
		return fromError(x)
	case map[string]any:
		fromMap(x, &info)
		return info
	case Envelope:
		fromMap(toMap(x), &info)
		return info
	case *Envelope:
		if x != nil {
			fromMap(toMap(*x), &info)
		}
		return info
	case json.RawMessage:
		return fromBytes(x)
	case []byte:
		return fromBytes(x)
	case string:
		return fromBytes([]byte(x))
	default:
		fromMap(toMap(x), &info)
		return info
	}
}

func fromError(err error) ErrorInfo {
	var info ErrorInfo

	var pc PayloadCarrier
	if errors.As(err, &pc) {
		info = Extract(pc.ErrorPayload())
	}

	// The status the response actually had beats whatever its body claims.
	var sc StatusCarrier
	if errors.As(err, &sc) {
		if s := sc.ErrorStatus(); validStatus(s) {
			info.HTTPStatus = &s
		}
	}

	var ic IdempotencyCarrier
	if errors.As(err, &ic) {
		key, status := ic.ErrorIdempotency()
		if key != "" {
			info.IdempotencyKey = key
		}
		if status != "" {
			info.IdempotencyStatus = status
		}
	}

	if info.Summary == "" {
		info.Summary = err.Error()
	}
	return info
}

func fromBytes(b []byte) ErrorInfo {
	var info ErrorInfo
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return info
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil || m == nil {
		// Not a JSON object: the text itself is the best summary available.
		info.Summary = string(trimmed)
		return info
	}
	fromMap(m, &info)
	return info
}

// fromMap fills info from a decoded body. Each field is resolved
// independently, first match wins.
func fromMap(m map[string]any, info *ErrorInfo) {
	if m == nil {
		return
	}
	nested, _ := m["error"].(map[string]any)
	nestedText, _ := m["error"].(string)

	info.Code = firstString(
		lookup(nested, "code"),
		m["detail"],
		m["code"],
		legacyValue(m, legacyCodeKeys),
	)
	info.Summary = firstString(
		lookup(nested, "message"),
		m["message"],
		nestedText,
		legacyValue(m, legacyMessageKeys),
	)
	info.Detail = firstString(
		lookup(nested, "detail"),
		m["detail"],
	)
	info.RequestID = firstString(
		lookup(nested, "request_id"),
		m["request_id"],
		lookup(nested, "requestId"),
		m["requestId"],
	)
	for _, src := range []map[string]any{m, nested} {
		if info.HTTPStatus != nil {
			break
		}
		for _, k := range statusAliases {
			if n, ok := toInt(lookup(src, k)); ok && validStatus(n) {
				info.HTTPStatus = &n
				break
			}
		}
	}
	if s := firstString(lookup(nested, "idempotency_key"), m["idempotency_key"]); s != "" {
		info.IdempotencyKey = s
	}
}

func lookup(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func firstString(vals ...any) string {
	for _, v := range vals {
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}

// toInt coerces a loosely typed status value to a finite integer.
func toInt(v any) (int, bool) {
	var f float64
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

func validStatus(n int) bool { return n >= 100 && n <= 599 }

// toMap round-trips an arbitrary value through JSON to obtain an object view.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}
