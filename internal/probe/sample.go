package probe

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"tabpipe/internal/dataset"
)

// maxSampleRows caps how many data rows feed a proposal. A head sample never
// needs more than this to settle kinds.
const maxSampleRows = 10000

// sampleHead reads up to n bytes from the start of a local file or URL.
func sampleHead(ctx context.Context, location string, n int) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return sampleHTTP(ctx, location, n)
	}
	return sampleFile(location, n)
}

func sampleFile(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", dataset.ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", dataset.ErrSourceUnavailable, path, err)
	}
	return data, nil
}

// sampleHTTP asks for the head with a Range request but also limits the read
// client-side, so it behaves the same when the server ignores Range and
// answers 200 with the whole body.
func sampleHTTP(ctx context.Context, url string, n int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: request %s: %w", dataset.ErrSourceUnavailable, url, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", n-1))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", dataset.ErrSourceUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("%w: get %s: status %s", dataset.ErrSourceUnavailable, url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", dataset.ErrSourceUnavailable, url, err)
	}
	return data, nil
}

// delimCandidates in preference order. The comma wins ties and is the
// fallback when nothing is consistent.
var delimCandidates = []rune{',', '\t', ';', '|'}

// sniffDelimiter picks the candidate that appears the same nonzero number of
// times on each of the first few lines. Quoted fields containing a candidate
// break its count, which simply disqualifies it.
func sniffDelimiter(data []byte) rune {
	lines := headLines(data, 10)
	if len(lines) == 0 {
		return ','
	}
	best, bestCount := ',', 0
	for _, d := range delimCandidates {
		want := strings.Count(lines[0], string(d))
		if want == 0 {
			continue
		}
		consistent := true
		for _, ln := range lines[1:] {
			if strings.Count(ln, string(d)) != want {
				consistent = false
				break
			}
		}
		if consistent && want > bestCount {
			best, bestCount = d, want
		}
	}
	return best
}

func headLines(data []byte, n int) []string {
	var lines []string
	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		ln := strings.TrimSuffix(string(raw), "\r")
		if strings.TrimSpace(ln) == "" {
			continue
		}
		lines = append(lines, ln)
		if len(lines) == n {
			break
		}
	}
	return lines
}

// readSample parses the sampled bytes best-effort: the first parseable line
// is the header, and rows that fail to parse or disagree with the header
// width are skipped rather than failing the probe.
func readSample(data []byte, delim rune) ([]string, [][]string) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	var header []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil || len(rec) == 0 {
			continue
		}
		header = rec
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
		break
	}

	rows := make([][]string, 0, 64)
	for len(rows) < maxSampleRows {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(rec) != len(header) {
			continue
		}
		rows = append(rows, rec)
	}
	return header, rows
}
