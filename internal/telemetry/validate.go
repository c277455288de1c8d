package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// RejectReason říká, proč byla zpráva zahozena. Používá se jako label v metrikách.
type RejectReason string

const (
	MalformedTopic   RejectReason = "MalformedTopic"
	MalformedPayload RejectReason = "MalformedPayload"
	DeviceIDMismatch RejectReason = "DeviceIdMismatch"
	SchemaViolation  RejectReason = "SchemaViolation"
)

// Sentinel chyby pro errors.Is. RejectError je vrací z Unwrap.
var (
	ErrMalformedTopic   = errors.New("malformed topic")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrDeviceIDMismatch = errors.New("deviceId in payload does not match topic")
	ErrSchemaViolation  = errors.New("payload validation failed")
)

// MaxPayloadSize je horní limit pro jeden payload. Větší zprávu ani nezkoušíme parsovat.
const MaxPayloadSize = 32 * 1024

// FieldError popisuje jednu chybu schématu na konkrétním poli.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RejectError je výsledek neúspěšné validace. Zpráva se zahazuje, nic se neopakuje.
type RejectError struct {
	Reason RejectReason
	Topic  string
	Detail string
	Fields []FieldError
}

func (e *RejectError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Reason))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Field)
		b.WriteString(" ")
		b.WriteString(f.Message)
	}
	return b.String()
}

func (e *RejectError) Unwrap() error {
	switch e.Reason {
	case MalformedTopic:
		return ErrMalformedTopic
	case MalformedPayload:
		return ErrMalformedPayload
	case DeviceIDMismatch:
		return ErrDeviceIDMismatch
	case SchemaViolation:
		return ErrSchemaViolation
	}
	return nil
}

// ReasonOf vytáhne důvod zamítnutí z libovolné chyby ("" pokud nejde o RejectError).
func ReasonOf(err error) RejectReason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// Route jsou identifikátory obsažené v topicu.
type Route struct {
	SiteID   string
	DeviceID string
	Kind     string // "telemetry" nebo "status"
}

// Topic skládá topic pro dané zařízení. Simulátor ho používá pro publikaci.
func Topic(siteID, deviceID, kind string) string {
	return "site/" + siteID + "/device/" + deviceID + "/" + kind
}

// ParseTopic rozebere topic ve tvaru site/{siteId}/device/{deviceId}/{kind}.
// Pevné segmenty musí sedět přesně, ID nesmí být prázdná.
func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		return Route{}, &RejectError{Reason: MalformedTopic, Topic: topic,
			Detail: fmt.Sprintf("expected 5 segments, got %d", len(parts))}
	}
	if parts[0] != "site" || parts[2] != "device" {
		return Route{}, &RejectError{Reason: MalformedTopic, Topic: topic,
			Detail: "expected site/{siteId}/device/{deviceId}/..."}
	}
	if parts[1] == "" || parts[3] == "" {
		return Route{}, &RejectError{Reason: MalformedTopic, Topic: topic, Detail: "empty site or device id"}
	}
	if parts[4] == "" {
		return Route{}, &RejectError{Reason: MalformedTopic, Topic: topic, Detail: "empty message kind"}
	}

	return Route{SiteID: parts[1], DeviceID: parts[3], Kind: parts[4]}, nil
}

// payloadSchemaJSON popisuje očekávaný JSON od zařízení.
const payloadSchemaJSON = `{
  "type": "object",
  "required": ["deviceId", "timestamp", "measurements"],
  "properties": {
    "deviceId":  {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "format": "date-time"},
    "measurements": {
      "type": "object",
      "required": ["temperature", "humidity"],
      "properties": {
        "temperature": {"type": "number"},
        "humidity":    {"type": "number"},
        "pressure":    {"type": "number"}
      },
      "additionalProperties": {"type": ["number", "string", "boolean"]}
    }
  }
}`

// Schéma je konstanta, kompilujeme ho jednou při startu.
var payloadSchema = mustSchema(payloadSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("telemetry: invalid payload schema: %v", err))
	}
	return s
}

// wirePayload je tvar zprávy na drátě.
type wirePayload struct {
	DeviceID     string       `json:"deviceId"`
	Timestamp    string       `json:"timestamp"`
	Measurements Measurements `json:"measurements"`
}

// ParseAndValidate zapouzdřuje logiku zpracování jedné zprávy.
// Vstupy: topic a raw payload. Výstup: Reading nebo *RejectError.
// Pořadí kontrol: topic -> JSON -> deviceId -> schéma.
func ParseAndValidate(topic string, raw []byte) (Reading, error) {
	// KROK 1: Topic
	route, err := ParseTopic(topic)
	if err != nil {
		return Reading{}, err
	}
	if route.Kind != "telemetry" {
		return Reading{}, &RejectError{Reason: MalformedTopic, Topic: topic,
			Detail: fmt.Sprintf("expected telemetry topic, got %q", route.Kind)}
	}

	// KROK 2: Parsing
	if len(raw) > MaxPayloadSize {
		return Reading{}, &RejectError{Reason: MalformedPayload, Topic: topic,
			Detail: fmt.Sprintf("payload too large (%d bytes)", len(raw))}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Reading{}, &RejectError{Reason: MalformedPayload, Topic: topic, Detail: err.Error()}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return Reading{}, &RejectError{Reason: MalformedPayload, Topic: topic, Detail: "payload is not a JSON object"}
	}

	// KROK 3: Ochrana proti podvrženému topicu.
	// Chybějící nebo ne-stringové deviceId se také nerovná topicu.
	if id, _ := obj["deviceId"].(string); id != route.DeviceID {
		return Reading{}, &RejectError{Reason: DeviceIDMismatch, Topic: topic,
			Detail: fmt.Sprintf("payload deviceId %q, topic device %q", id, route.DeviceID)}
	}

	// KROK 4: Schéma
	result, err := payloadSchema.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return Reading{}, &RejectError{Reason: MalformedPayload, Topic: topic, Detail: err.Error()}
	}
	if !result.Valid() {
		return Reading{}, &RejectError{Reason: SchemaViolation, Topic: topic, Fields: fieldErrors(result.Errors())}
	}

	var wire wirePayload
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Reading{}, &RejectError{Reason: MalformedPayload, Topic: topic, Detail: err.Error()}
	}

	ts, err := parseTimestamp(wire.Timestamp)
	if err != nil {
		return Reading{}, &RejectError{Reason: SchemaViolation, Topic: topic,
			Fields: []FieldError{{Field: "timestamp", Message: err.Error()}}}
	}

	return Reading{
		DeviceID:     route.DeviceID,
		SiteID:       route.SiteID,
		Timestamp:    ts,
		Measurements: wire.Measurements,
	}, nil
}

// parseTimestamp přijímá ISO-8601 instant (RFC 3339) nebo samotné datum (půlnoc UTC).
// Formátová kontrola schématu pustí i samotný čas, ten tady odmítneme.
// Instant musí být vyjádřitelný v nanosekundách od epochy (zhruba roky 1678 až 2262),
// v tom tvaru ho ukládá SQLite.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, s); err != nil {
			return time.Time{}, fmt.Errorf("must be an ISO-8601 instant, got %q", s)
		}
	}
	if t.Before(minTimestamp) || t.After(maxTimestamp) {
		return time.Time{}, fmt.Errorf("must be between %s and %s, got %q",
			minTimestamp.Format(time.RFC3339), maxTimestamp.Format(time.RFC3339), s)
	}
	return t.UTC(), nil
}

var (
	minTimestamp = time.Unix(0, math.MinInt64).UTC()
	maxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

func fieldErrors(errs []gojsonschema.ResultError) []FieldError {
	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		field := e.Field()
		// U "required" ukazuje Field() na rodiče, jméno chybějícího pole je v detailech.
		if e.Type() == "required" {
			if prop, ok := e.Details()["property"].(string); ok {
				if field == "(root)" {
					field = prop
				} else {
					field = field + "." + prop
				}
			}
		}
		out = append(out, FieldError{Field: field, Message: e.Description()})
	}
	return out
}
