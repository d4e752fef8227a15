package gateway

import (
	"encoding/json"
	"time"
)

// Source identifies where a response came from.
type Source string

const (
	// SourceAPI is a live upstream response.
	SourceAPI Source = "api"

	// SourceCache is a fresh cache hit.
	SourceCache Source = "cache"

	// SourceStaleCache is a stale shadow served because the fresh entry
	// expired or the upstream failed.
	SourceStaleCache Source = "stale_cache"

	// SourceError is a synthesized failure response.
	SourceError Source = "error"
)

// Response is the result of a Fetch. Fetch never returns an error: every
// failure mode resolves to a Response with SourceError or SourceStaleCache.
type Response struct {
	// Data is the JSON document returned by the upstream, or a structured
	// {error, message} payload when Source is SourceError.
	Data json.RawMessage `json:"data"`

	StatusCode     int       `json:"status_code"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	Cached         bool      `json:"cached"`
	Stale          bool      `json:"stale"`
	Source         Source    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
}

// errorBody is the payload carried by synthesized error responses and by
// responses whose body could not be parsed.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Raw     string `json:"raw,omitempty"`
}

// errorPayload builds a structured error document. Marshalling a flat
// struct of strings cannot fail.
func errorPayload(errText, message, raw string) json.RawMessage {
	payload, _ := json.Marshal(errorBody{Error: errText, Message: message, Raw: raw})
	return payload
}

// decodeEnvelope validates and inspects an upstream body. It returns the
// document to expose to callers and whether the document carries an "error"
// field. Malformed JSON is represented as data with an error field, never
// as a thrown error, and is therefore never cached.
func decodeEnvelope(body []byte) (json.RawMessage, bool) {
	if !json.Valid(body) {
		raw := string(body)
		if len(raw) > 500 {
			raw = raw[:500]
		}
		return errorPayload("Invalid JSON response", "", raw), true
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		// Valid JSON that is not an object (array, scalar) has no error field.
		return json.RawMessage(body), false
	}

	_, hasError := probe["error"]
	return json.RawMessage(body), hasError
}
