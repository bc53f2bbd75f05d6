package common

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by GetWithRetry when the upstream answers 404.
var ErrNotFound = errors.New("resource not found")

const retryBackoff = 100 * time.Millisecond

// GetWithRetry performs req up to three times, retrying on transport errors
// and non-2xx responses. A 404 is final and returned as ErrNotFound. The
// caller owns the returned body.
func GetWithRetry(client *http.Client, req *http.Request, name string) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx := req.Context()

	var resp *http.Response
	var err error

	validResp, retries := false, 3
	for !validResp {
		resp, err = client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrapf(ctx.Err(), "%v api request", name)
			}
			if retries > 1 {
				retries--
				sleep(req, retryBackoff)
				continue
			}
			return nil, errors.Wrapf(err, "error on %v api request", name)
		} else if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, errors.Wrapf(ErrNotFound, "%v", name)
		} else if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			if retries > 1 && ctx.Err() == nil {
				retries--
				sleep(req, retryBackoff)
				continue
			}
			return nil, errors.Errorf("error code %v returned from %v", resp.StatusCode, name)
		} else {
			validResp = true
		}
	}
	return resp, nil
}

func sleep(req *http.Request, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-req.Context().Done():
	case <-t.C:
	}
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
