package sink

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

const userAgent = "weatherstation"

// Kind classifies a failed sink call.
type Kind int

const (
	// KindTransport means the endpoint could not be reached at all.
	KindTransport Kind = iota + 1
	// KindStatus means the sink answered with a non-2xx status.
	KindStatus
	// KindDecode means the sink answered 2xx with a body we could not read.
	KindDecode
	// KindCircuitOpen means the call was not attempted because the breaker is open.
	KindCircuitOpen
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	case KindCircuitOpen:
		return "circuit open"
	default:
		return "unknown"
	}
}

// Error is returned by every sink call.
type Error struct {
	Op     string
	Kind   Kind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindStatus && e.Body != "":
		return fmt.Sprintf("%s: sink answered %d %s: %s", e.Op, e.Status, http.StatusText(e.Status), e.Body)
	case e.Kind == KindStatus:
		return fmt.Sprintf("%s: sink answered %d %s", e.Op, e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a sink error of the given kind.
func IsKind(err error, kind Kind) bool {
	var sinkErr *Error
	return errors.As(err, &sinkErr) && sinkErr.Kind == kind
}

// IsUnreachableLogin reports whether err comes from a login request that
// never reached the server.
func IsUnreachableLogin(err error) bool {
	var sinkErr *Error
	return errors.As(err, &sinkErr) && sinkErr.Kind == KindTransport && strings.HasSuffix(sinkErr.Op, "login")
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// Only an unreachable sink trips the breaker. Any answer, even a 5xx,
		// proves the sink is there, so every picture or sensor of a run still
		// gets its own request.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsKind(err, KindTransport)
		},
	})
}

func newHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
}

// doRequest sends the request once through the circuit breaker. There are no
// retries; a failed call is reported to the caller, which ends its run.
func doRequest(cb *gobreaker.CircuitBreaker, op string, req *resty.Request, method, url string) (*resty.Response, error) {
	result, err := cb.Execute(func() (interface{}, error) {
		resp, err := req.Execute(method, url)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindTransport, Err: err}
		}
		if !resp.IsSuccess() {
			return nil, &Error{Op: op, Kind: KindStatus, Status: resp.StatusCode(), Body: trimBody(resp.String())}
		}
		return resp, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Op: op, Kind: KindCircuitOpen, Err: err}
	}
	if err != nil {
		return nil, err
	}

	resp, ok := result.(*resty.Response)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type from circuit breaker", op)
	}
	return resp, nil
}

func trimBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		return body[:512] + "..."
	}
	return body
}
