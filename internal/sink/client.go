package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weatherstation/internal/weather"
)

// SensorID is the sink's identifier of a sensor. The sink may send it as a
// JSON number or string; it is sent back in the same form.
type SensorID struct {
	value   string
	numeric bool
}

// NewSensorID builds a string sensor id.
func NewSensorID(id string) SensorID {
	return SensorID{value: id}
}

func (id SensorID) String() string {
	return id.value
}

func (id SensorID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *SensorID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil && !bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		*id = SensorID{value: n.String(), numeric: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = SensorID{value: s}
	return nil
}

// RemoteSensor is a sensor known to the sink.
type RemoteSensor struct {
	ID   SensorID `json:"id"`
	Name string   `json:"name"`
}

type measurePayload struct {
	Sensor      SensorID `json:"sensor"`
	MeasuredAt  string   `json:"measured_at"`
	Temperature string   `json:"temperature"`
	Humidity    string   `json:"humidity"`
}

// Client talks to the measure REST service.
type Client struct {
	http     *resty.Client
	circuit  *gobreaker.CircuitBreaker
	username string
	password string
	log      logrus.FieldLogger
}

// NewClient creates a client for the sink at baseURL. Call Login before anything else.
func NewClient(baseURL, username, password string, timeout time.Duration, log logrus.FieldLogger) *Client {
	return &Client{
		http:     newHTTPClient(baseURL, timeout),
		circuit:  newBreaker("measure-sink"),
		username: username,
		password: password,
		log:      log,
	}
}

// Login exchanges the configured credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	c.log.Debugf("logging in to %s/login", c.http.BaseURL)

	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": c.username, "password": c.password})

	resp, err := doRequest(c.circuit, "login", req, resty.MethodPost, "/login")
	if err != nil {
		return err
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 {
		c.log.Warn("login returned an empty body, continuing without token")
		return nil
	}

	var payload struct {
		AccessJWT string `json:"access_jwt"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &Error{Op: "login", Kind: KindDecode, Err: err}
	}
	c.http.SetAuthToken(payload.AccessJWT)
	return nil
}

// ListSensors returns the sensors registered at the sink.
func (c *Client) ListSensors(ctx context.Context) ([]RemoteSensor, error) {
	resp, err := doRequest(c.circuit, "list sensors", c.http.R().SetContext(ctx), resty.MethodGet, "/sensors")
	if err != nil {
		return nil, err
	}
	c.log.Debugf("sensors: %s", resp.String())

	var sensors []RemoteSensor
	if err := json.Unmarshal(resp.Body(), &sensors); err != nil {
		return nil, &Error{Op: "list sensors", Kind: KindDecode, Err: err}
	}
	return sensors, nil
}

// LastTimestamp returns the watermark of a sensor, or weather.Epoch when the
// sink has nothing for it yet.
func (c *Client) LastTimestamp(ctx context.Context, sensor SensorID) (time.Time, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("sensor", sensor.String())

	resp, err := doRequest(c.circuit, "last timestamp", req, resty.MethodGet, "/measures/last")
	if err != nil {
		return time.Time{}, err
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return weather.Epoch, nil
	}

	var last struct {
		MeasuredAt *string `json:"measured_at"`
	}
	if err := json.Unmarshal(body, &last); err != nil {
		return time.Time{}, &Error{Op: "last timestamp", Kind: KindDecode, Err: err}
	}
	if last.MeasuredAt == nil || *last.MeasuredAt == "" {
		return weather.Epoch, nil
	}

	ts, err := weather.ParseTimestamp(*last.MeasuredAt)
	if err != nil {
		return time.Time{}, &Error{Op: "last timestamp", Kind: KindDecode, Err: err}
	}
	return ts, nil
}

// PostMeasures sends all measures of one sensor as a single batch.
func (c *Client) PostMeasures(ctx context.Context, sensor SensorID, measures []weather.Measure) error {
	batch := make([]measurePayload, 0, len(measures))
	for _, m := range measures {
		batch = append(batch, measurePayload{
			Sensor:      sensor,
			MeasuredAt:  weather.FormatTimestamp(m.CreatedAt),
			Temperature: strconv.FormatFloat(m.Temperature, 'f', -1, 64),
			Humidity:    strconv.FormatFloat(m.Humidity, 'f', -1, 64),
		})
	}

	req := c.http.R().
		SetContext(ctx).
		SetBody(batch)

	_, err := doRequest(c.circuit, "post measures", req, resty.MethodPost, "/measures")
	return err
}
