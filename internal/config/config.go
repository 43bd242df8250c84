package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/weatherstation/internal/weather"
)

var validate = validator.New()

type AppConfig struct {
	LogLevel string `validate:"required,oneof=trace debug info warn warning error fatal panic"`

	// Database is the path of the local SQLite file.
	Database string `validate:"required"`

	// Sensors maps bricklet sensor ids to sensor names.
	Sensors weather.SensorMapping

	// Sections are validated per program, see ValidateListener and friends.
	Broker   BrokerConfig   `validate:"-"`
	Listener ListenerConfig `validate:"-"`
	Rest     RestConfig     `validate:"-"`
	Export   ExportConfig   `validate:"-"`
	Pictures PicturesConfig `validate:"-"`
	Mirrors  MirrorConfig   `validate:"-"`

	// Port of the status API, only served when a program runs on an interval.
	Port string
}

type BrokerConfig struct {
	Host              string `validate:"required"`
	Port              int    `validate:"min=1,max=65535"`
	ClientID          string `validate:"required"`
	OutdoorWeatherUID string `validate:"required"`
	QoS               byte   `validate:"max=2"`
}

type ListenerConfig struct {
	PollInterval time.Duration `validate:"gt=0"`
	PollAttempts int           `validate:"min=1"`
}

type RestConfig struct {
	URL      string `validate:"required,url"`
	Username string `validate:"required"`
	Password string `validate:"required"`

	// Timeout applies to every metadata and measure call.
	Timeout time.Duration `validate:"gt=0"`
}

type ExportConfig struct {
	// ContinueOnError keeps exporting later sensors after one sensor failed.
	ContinueOnError bool
}

type PicturesConfig struct {
	URL                string `validate:"required,url"`
	ClientID           string `validate:"required"`
	ClientSecret       string `validate:"required"`
	Username           string `validate:"required"`
	Password           string `validate:"required"`
	Dir                string `validate:"required"`
	CameraID           string `validate:"required"`
	DeleteAfterPublish bool

	LoginTimeout  time.Duration `validate:"gt=0"`
	UploadTimeout time.Duration `validate:"gt=0"`
}

// MirrorConfig enables optional write-only copies of every stored snapshot.
type MirrorConfig struct {
	RedisAddr string

	InfluxURL    string `validate:"omitempty,url"`
	InfluxToken  string `validate:"required_with=InfluxURL"`
	InfluxOrg    string `validate:"required_with=InfluxURL"`
	InfluxBucket string `validate:"required_with=InfluxURL"`
}

// Load reads the dotenv file at path (if present) and then the environment.
// A missing file is not an error; the environment alone may carry everything.
func Load(path string) (*AppConfig, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg := &AppConfig{
		LogLevel: strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		Database: getenvDefault("DATABASE", "weatherstation.db"),
		Port:     getenvDefault("PORT", "8080"),
	}

	sensors, err := loadSensors(os.Getenv("SENSORS"))
	if err != nil {
		return nil, err
	}
	cfg.Sensors = sensors

	qos, err := getenvInt("BROKER_QOS", 1)
	if err != nil {
		return nil, err
	}
	brokerPort, err := getenvInt("BROKER_PORT", 1883)
	if err != nil {
		return nil, err
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("invalid BROKER_QOS: %d", qos)
	}
	cfg.Broker = BrokerConfig{
		Host:              getenvDefault("BROKER_HOST", "localhost"),
		Port:              brokerPort,
		ClientID:          getenvDefault("BROKER_CLIENT_ID", "weatherstation"),
		OutdoorWeatherUID: os.Getenv("OUTDOOR_WEATHER_UID"),
		QoS:               byte(qos),
	}

	// Poll cadence of the save step: one-second ticks, ten attempts.
	pollInterval, err := getenvDuration("POLL_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	pollAttempts, err := getenvInt("POLL_ATTEMPTS", 10)
	if err != nil {
		return nil, err
	}
	cfg.Listener = ListenerConfig{PollInterval: pollInterval, PollAttempts: pollAttempts}

	httpTimeout, err := getenvDuration("HTTP_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Rest = RestConfig{
		URL:      strings.TrimRight(os.Getenv("REST_URL"), "/"),
		Username: os.Getenv("REST_USERNAME"),
		Password: os.Getenv("REST_PASSWORD"),
		Timeout:  httpTimeout,
	}

	continueOnError, err := getenvBool("EXPORT_CONTINUE_ON_ERROR", false)
	if err != nil {
		return nil, err
	}
	cfg.Export = ExportConfig{ContinueOnError: continueOnError}

	uploadTimeout, err := getenvDuration("UPLOAD_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, err
	}
	deleteAfterPublish, err := getenvBool("PICTURES_DELETE_AFTER_PUBLISH", false)
	if err != nil {
		return nil, err
	}
	cfg.Pictures = PicturesConfig{
		URL:                strings.TrimRight(os.Getenv("PICTURES_URL"), "/"),
		ClientID:           os.Getenv("PICTURES_CLIENT_ID"),
		ClientSecret:       os.Getenv("PICTURES_CLIENT_SECRET"),
		Username:           os.Getenv("PICTURES_USERNAME"),
		Password:           os.Getenv("PICTURES_PASSWORD"),
		Dir:                os.Getenv("PICTURES_DIR"),
		CameraID:           os.Getenv("PICTURES_CAMERA_ID"),
		DeleteAfterPublish: deleteAfterPublish,
		LoginTimeout:       httpTimeout,
		UploadTimeout:      uploadTimeout,
	}

	cfg.Mirrors = MirrorConfig{
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUX_ORG"),
		InfluxBucket: os.Getenv("INFLUX_BUCKET"),
	}

	return cfg, nil
}

// ValidateListener checks what save-measures needs.
func (c *AppConfig) ValidateListener() error {
	if err := validateAll(c, c.Broker, c.Listener, c.Mirrors); err != nil {
		return err
	}
	if len(c.Sensors) == 0 {
		return errors.New("SENSORS must map at least one sensor id to a name")
	}
	return nil
}

// ValidateExporter checks what publish-measures needs.
func (c *AppConfig) ValidateExporter() error {
	return validateAll(c, c.Rest)
}

// ValidatePictures checks what publish-pictures needs.
func (c *AppConfig) ValidatePictures() error {
	return validateAll(c.Pictures)
}

func validateAll(sections ...any) error {
	for _, s := range sections {
		if err := validate.Struct(s); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

func loadSensors(raw string) (weather.SensorMapping, error) {
	if strings.TrimSpace(raw) == "" {
		return weather.SensorMapping{}, nil
	}
	var m weather.SensorMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid SENSORS: %w", err)
	}
	return m, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
