package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTopic = "site/site-01/device/dev-001/telemetry"

func validPayload() []byte {
	return []byte(`{"deviceId":"dev-001","timestamp":"2024-01-01T00:00:00Z","measurements":{"temperature":40,"humidity":50}}`)
}

func TestParseAndValidate_Valid(t *testing.T) {
	r, err := ParseAndValidate(validTopic, validPayload())
	require.NoError(t, err)

	assert.Equal(t, "dev-001", r.DeviceID)
	assert.Equal(t, "site-01", r.SiteID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), r.Timestamp)
	assert.Equal(t, 40.0, r.Measurements.Temperature)
	assert.Equal(t, 50.0, r.Measurements.Humidity)
	assert.Nil(t, r.Measurements.Pressure)
}

func TestParseAndValidate_OptionalAndExtraFields(t *testing.T) {
	payload := `{"deviceId":"dev-001","timestamp":"2024-01-01T10:15:30.250+02:00",
		"measurements":{"temperature":21.5,"humidity":40,"pressure":1013.2,"co2":415,"door":"open"}}`

	r, err := ParseAndValidate(validTopic, []byte(payload))
	require.NoError(t, err)

	require.NotNil(t, r.Measurements.Pressure)
	assert.Equal(t, 1013.2, *r.Measurements.Pressure)
	assert.Equal(t, 415.0, r.Measurements.Extra["co2"])
	assert.Equal(t, "open", r.Measurements.Extra["door"])
	assert.Equal(t, time.Date(2024, 1, 1, 8, 15, 30, 250_000_000, time.UTC), r.Timestamp)

	co2, ok := r.Measurements.Field("co2")
	assert.True(t, ok)
	assert.Equal(t, 415.0, co2)
	_, ok = r.Measurements.Field("door")
	assert.False(t, ok, "non-numeric extra is not a numeric field")
}

func TestParseAndValidate_MalformedTopic(t *testing.T) {
	topics := []string{
		"",
		"site/site-01/device/dev-001",
		"site/site-01/device/dev-001/telemetry/extra",
		"sites/site-01/device/dev-001/telemetry",
		"site/site-01/devices/dev-001/telemetry",
		"site/site-01/device/dev-001/status",
		"site//device/dev-001/telemetry",
		"site/site-01/device//telemetry",
		"/site/site-01/device/dev-001/telemetry",
	}

	for _, topic := range topics {
		t.Run(topic, func(t *testing.T) {
			r, err := ParseAndValidate(topic, validPayload())
			require.Error(t, err)
			assert.Equal(t, MalformedTopic, ReasonOf(err))
			assert.True(t, errors.Is(err, ErrMalformedTopic))
			assert.Equal(t, Reading{}, r)
		})
	}
}

func TestParseAndValidate_MalformedPayload(t *testing.T) {
	payloads := map[string][]byte{
		"not json":  []byte(`{deviceId:`),
		"array":     []byte(`[1,2,3]`),
		"number":    []byte(`42`),
		"empty":     {},
		"too large": []byte(`{"deviceId":"dev-001","pad":"` + strings.Repeat("x", MaxPayloadSize) + `"}`),
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAndValidate(validTopic, payload)
			require.Error(t, err)
			assert.Equal(t, MalformedPayload, ReasonOf(err))
		})
	}
}

func TestParseAndValidate_DeviceIDMismatch(t *testing.T) {
	payloads := []string{
		// Jinak validní payload, jen cizí zařízení.
		`{"deviceId":"dev-002","timestamp":"2024-01-01T00:00:00Z","measurements":{"temperature":20,"humidity":50}}`,
		// Mismatch vyhrává i nad chybou schématu.
		`{"deviceId":"dev-002","measurements":{}}`,
		`{"timestamp":"2024-01-01T00:00:00Z","measurements":{"temperature":20,"humidity":50}}`,
		`{"deviceId":7,"timestamp":"2024-01-01T00:00:00Z","measurements":{"temperature":20,"humidity":50}}`,
	}

	for _, p := range payloads {
		_, err := ParseAndValidate(validTopic, []byte(p))
		require.Error(t, err, p)
		assert.Equal(t, DeviceIDMismatch, ReasonOf(err), p)
		assert.ErrorIs(t, err, ErrDeviceIDMismatch)
	}
}

func TestParseAndValidate_SchemaViolation(t *testing.T) {
	cases := map[string]struct {
		payload string
		fields  []string
	}{
		"missing humidity": {
			payload: `{"deviceId":"dev-001","timestamp":"2024-01-01T00:00:00Z","measurements":{"temperature":20}}`,
			fields:  []string{"measurements.humidity"},
		},
		"string temperature": {
			payload: `{"deviceId":"dev-001","timestamp":"2024-01-01T00:00:00Z","measurements":{"temperature":"hot","humidity":1}}`,
			fields:  []string{"measurements.temperature"},
		},
		"bad timestamp and missing measurements": {
			payload: `{"deviceId":"dev-001","timestamp":"yesterday"}`,
			fields:  []string{"measurements", "timestamp"},
		},
		"nested extra": {
			payload: `{"deviceId":"dev-001","timestamp":"2024-01-01T00:00:00Z","measurements":{"temperature":1,"humidity":1,"gps":{"lat":1}}}`,
			fields:  []string{"measurements.gps"},
		},
		"timestamp after 2262": {
			payload: `{"deviceId":"dev-001","timestamp":"2500-01-01T00:00:00Z","measurements":{"temperature":1,"humidity":1}}`,
			fields:  []string{"timestamp"},
		},
		"timestamp before 1678": {
			payload: `{"deviceId":"dev-001","timestamp":"1600-01-01","measurements":{"temperature":1,"humidity":1}}`,
			fields:  []string{"timestamp"},
		},
		"time only timestamp": {
			payload: `{"deviceId":"dev-001","timestamp":"10:00:00","measurements":{"temperature":1,"humidity":1}}`,
			fields:  []string{"timestamp"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAndValidate(validTopic, []byte(tc.payload))
			require.Error(t, err)

			var re *RejectError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, SchemaViolation, re.Reason)

			got := make([]string, 0, len(re.Fields))
			for _, f := range re.Fields {
				got = append(got, f.Field)
			}
			assert.ElementsMatch(t, tc.fields, got)
		})
	}
}

func TestParseAndValidate_DateOnlyTimestamp(t *testing.T) {
	payload := `{"deviceId":"dev-001","timestamp":"2024-03-05","measurements":{"temperature":1,"humidity":2}}`
	r, err := ParseAndValidate(validTopic, []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), r.Timestamp)
}

func TestParseTopic_Status(t *testing.T) {
	route, err := ParseTopic("site/site-02/device/dev-003/status")
	require.NoError(t, err)
	assert.Equal(t, Route{SiteID: "site-02", DeviceID: "dev-003", Kind: "status"}, route)
	assert.Equal(t, "site/site-02/device/dev-003/status", Topic("site-02", "dev-003", "status"))
}

func TestMeasurements_JSONRoundTripKeepsShape(t *testing.T) {
	p := 990.5
	m := Measurements{Temperature: 20, Humidity: 30, Pressure: &p, Extra: map[string]any{"co2": 400.0}}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperature":20,"humidity":30,"pressure":990.5,"co2":400}`, string(data))

	var back Measurements
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m, back)
}

func TestRejectError_Message(t *testing.T) {
	err := &RejectError{Reason: SchemaViolation, Fields: []FieldError{
		{Field: "timestamp", Message: "bad"},
		{Field: "measurements.humidity", Message: "is required"},
	}}
	assert.Equal(t, "SchemaViolation: timestamp bad; measurements.humidity is required", err.Error())
}
