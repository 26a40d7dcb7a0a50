package datasource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// rangeFetcher reads byte ranges of a pre-authorised URL.
type rangeFetcher struct {
	client *resty.Client
}

func newRangeFetcher(timeout time.Duration) *rangeFetcher {
	return &rangeFetcher{client: resty.New().SetTimeout(timeout)}
}

// Read fetches at most max bytes, asking the server for the range first.
func (f *rangeFetcher) Read(ctx context.Context, rawURL string, max int64) ([]byte, error) {
	if max <= 0 {
		return []byte{}, nil
	}
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Range", fmt.Sprintf("bytes=0-%d", max-1)).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "ranged get")
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() >= 300 {
		return nil, errors.Errorf("ranged get: unexpected status %d", resp.StatusCode())
	}
	return readCapped(body, max)
}

// Size returns the total object size using a one-byte ranged request.
func (f *rangeFetcher) Size(ctx context.Context, rawURL string) (int64, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Range", "bytes=0-0").
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return 0, errors.Wrap(err, "size probe")
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() >= 300 {
		return 0, errors.Errorf("size probe: unexpected status %d", resp.StatusCode())
	}
	// "bytes 0-0/12345"
	if cr := resp.Header().Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 && cr[idx+1:] != "*" {
			return strconv.ParseInt(cr[idx+1:], 10, 64)
		}
	}
	if cl := resp.Header().Get("Content-Length"); cl != "" {
		return strconv.ParseInt(cl, 10, 64)
	}
	return 0, errors.New("size probe: no length in response")
}
