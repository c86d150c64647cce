package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

// maxHTTPSnapshotBytes bounds how much of a remote snapshot is read. A larger
// body is rejected as corrupt rather than truncated.
var maxHTTPSnapshotBytes int64 = 64 << 20

// HTTPSource fetches a snapshot with a GET request.
//
// If Path is set the response is parsed as JSON and the gjson path selects the
// part of the document that holds the rows, e.g. "data.rows".
type HTTPSource struct {
	URL        string
	Path       string
	Format     Format
	HTTPClient *http.Client
}

func newHTTPSource(u *url.URL, format Format) *HTTPSource {
	src := &HTTPSource{Format: format}
	if u.Fragment != "" {
		src.Path = u.Fragment
		stripped := *u
		stripped.Fragment = ""
		stripped.RawFragment = ""
		src.URL = stripped.String()
	} else {
		src.URL = u.String()
	}
	return src
}

func (s *HTTPSource) Location() string { return s.URL }

// Rows implements Source.
func (s *HTTPSource) Rows(ctx context.Context) ([]Row, error) {
	cli := s.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, notFound(s.URL, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json, text/csv")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, notFound(s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, notFound(s.URL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPSnapshotBytes+1))
	if err != nil {
		return nil, notFound(s.URL, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > maxHTTPSnapshotBytes {
		return nil, fmt.Errorf("%w: %s: snapshot exceeds %d bytes", ErrCorrupt, s.URL, maxHTTPSnapshotBytes)
	}

	if s.Path != "" {
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: %s: response is not valid json", ErrCorrupt, s.URL)
		}
		sub := gjson.GetBytes(body, s.Path)
		if !sub.Exists() {
			return nil, fmt.Errorf("%w: %s: path %q not found in response", ErrCorrupt, s.URL, s.Path)
		}
		return decodeJSONOrCorrupt([]byte(sub.Raw))
	}

	format := s.Format
	if format == FormatAuto {
		format, err = formatFromResponse(resp, req.URL.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, s.URL, err)
		}
	}

	return decodeBlob(io.NopCloser(bytes.NewReader(body)), req.URL.Path, format)
}

func decodeJSONOrCorrupt(data []byte) ([]Row, error) {
	rows, err := decodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return rows, nil
}

// formatFromResponse prefers the URL extension and falls back to Content-Type.
func formatFromResponse(resp *http.Response, urlPath string) (Format, error) {
	if f, err := formatFromName(stripCompression(urlPath)); err == nil {
		return f, nil
	}

	switch ct := resp.Header.Get("Content-Type"); {
	case hasMediaType(ct, "application/json"):
		return FormatJSON, nil
	case hasMediaType(ct, "text/csv"):
		return FormatCSV, nil
	default:
		return FormatAuto, errors.New("cannot infer dataset format from url or content type")
	}
}

func hasMediaType(contentType, want string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == want
}
