package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/marminbh/webhook-gateway/internal/config"
)

// ErrMalformedPayload marks a payload that will never parse; the failure is
// terminal and not retried.
var ErrMalformedPayload = errors.New("malformed payload")

// ParsedEvent is the generic structured form of a provider payload, plus the
// two fields the gateway routes and deduplicates on.
type ParsedEvent struct {
	ExternalEventID string
	Topic           string
	Fields          map[string]interface{}
}

// Parse deserializes rawPayload and extracts the external event id and topic
// using the provider's configured field paths. topicHint is used when the
// topic path yields nothing (e.g. providers that put the topic in a header or
// the URL instead of the body).
func Parse(rawPayload []byte, pc config.ProviderConfig, topicHint string) (*ParsedEvent, error) {
	// UseNumber keeps numeric event ids exact; float64 silently rounds
	// anything above 2^53 and distinct ids would collide on the dedup key
	dec := json.NewDecoder(bytes.NewReader(rawPayload))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON document", ErrMalformedPayload)
	}

	externalID := lookupString(fields, pc.EventIDPath)
	if externalID == "" {
		return nil, fmt.Errorf("%w: no event id at path %q", ErrMalformedPayload, pc.EventIDPath)
	}

	topic := lookupString(fields, pc.TopicPath)
	if topic == "" {
		topic = topicHint
	}

	return &ParsedEvent{
		ExternalEventID: externalID,
		Topic:           topic,
		Fields:          fields,
	}, nil
}

// lookupString walks a dot-separated path through nested JSON objects and
// returns the value as a string. Numeric event ids are common (e.g. commerce
// platforms), so numbers are formatted rather than rejected.
func lookupString(fields map[string]interface{}, path string) string {
	if path == "" {
		return ""
	}

	var current interface{} = fields
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current, ok = m[part]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
