package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weatherstation/internal/weather"
)

// PictureCredentials is the OAuth password grant of the picture service.
type PictureCredentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// PictureClient uploads camera pictures.
type PictureClient struct {
	http         *resty.Client
	circuit      *gobreaker.CircuitBreaker
	creds        PictureCredentials
	loginTimeout time.Duration
	log          logrus.FieldLogger
}

// NewPictureClient creates a client for the picture service at baseURL.
// Uploads may take up to uploadTimeout, everything else loginTimeout.
func NewPictureClient(baseURL string, creds PictureCredentials, loginTimeout, uploadTimeout time.Duration, log logrus.FieldLogger) *PictureClient {
	return &PictureClient{
		http:         newHTTPClient(baseURL, uploadTimeout),
		circuit:      newBreaker("picture-sink"),
		creds:        creds,
		loginTimeout: loginTimeout,
		log:          log,
	}
}

// Login runs the password grant and keeps the access token.
func (c *PictureClient) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.loginTimeout)
	defer cancel()

	c.log.Debugf("logging in to %s/oauth/token", c.http.BaseURL)
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type":    "password",
			"client_id":     c.creds.ClientID,
			"client_secret": c.creds.ClientSecret,
			"username":      c.creds.Username,
			"password":      c.creds.Password,
		})

	resp, err := doRequest(c.circuit, "picture login", req, resty.MethodPost, "/oauth/token")
	if err != nil {
		return err
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 {
		c.log.Warn("picture login returned an empty body, continuing without token")
		return nil
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &Error{Op: "picture login", Kind: KindDecode, Err: err}
	}
	c.http.SetAuthToken(payload.AccessToken)
	return nil
}

// UploadPicture posts one image file taken at takenAt to the given camera.
func (c *PictureClient) UploadPicture(ctx context.Context, cameraID, path string, takenAt time.Time) error {
	req := c.http.R().
		SetContext(ctx).
		SetFile("image", path).
		SetFormData(map[string]string{"taken_at": weather.FormatTimestamp(takenAt)})

	_, err := doRequest(c.circuit, "upload picture", req, resty.MethodPost, "/cameras/"+url.PathEscape(cameraID)+"/pictures")
	return err
}
