package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"tabpipe/internal/dataset"
)

// OpenLocation opens a dataset location for reading. Locations starting with
// http:// or https:// are fetched with a single GET bound to ctx; everything
// else is a local path. There is no retry here: a source that cannot be
// reached fails the run.
//
// Every failure wraps dataset.ErrSourceUnavailable with the location, while
// preserving the underlying error for errors.Is (e.g. os.ErrNotExist).
func OpenLocation(ctx context.Context, location string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return openHTTP(ctx, location)
	}
	return openFile(location)
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", dataset.ErrSourceUnavailable, path, err)
	}
	adviseSequential(f)
	return f, nil
}

func openHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: request %s: %w", dataset.ErrSourceUnavailable, url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", dataset.ErrSourceUnavailable, url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: get %s: status %s", dataset.ErrSourceUnavailable, url, resp.Status)
	}
	return resp.Body, nil
}
