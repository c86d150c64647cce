package dataset

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// Source is a candidate location for a dataset snapshot.
//
// Rows returns an error wrapping ErrNotFound when the snapshot does not exist
// or cannot be reached, and an error wrapping ErrCorrupt when it exists but
// cannot be decoded.
type Source interface {
	Location() string
	Rows(ctx context.Context) ([]Row, error)
}

// ParseLocation returns the Source for a location string.
//
// Supported forms:
//
//	path/to/file.csv                  local file (also file://...)
//	path/to/file.db                   SQLite database (also sqlite://path?table=name)
//	redis://host:6379/0?key=name      Redis string value
//	s3://bucket/key.json              Amazon S3 object
//	minio://host:9000/bucket/key.csv  MinIO or other S3-compatible object
//	https://host/dataset.json#path    HTTP resource, optional gjson path fragment
//
// format overrides extension-based format detection for byte sources.
func ParseLocation(location string, format Format) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("empty dataset location")
	}

	scheme, _, hasScheme := strings.Cut(location, "://")
	if !hasScheme {
		if isSQLiteName(location) {
			return &SQLiteSource{Path: location, Table: defaultSQLiteTable}, nil
		}
		return &FileSource{Path: location, Format: format}, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset location %q: %w", location, err)
	}

	switch strings.ToLower(scheme) {
	case "file":
		p := u.Host + u.Path
		if isSQLiteName(p) {
			return &SQLiteSource{Path: p, Table: defaultSQLiteTable}, nil
		}
		return &FileSource{Path: p, Format: format}, nil
	case "sqlite":
		table := u.Query().Get("table")
		if table == "" {
			table = defaultSQLiteTable
		}
		return &SQLiteSource{Path: u.Host + u.Path, Table: table}, nil
	case "redis", "rediss":
		return newRedisSource(u, format)
	case "s3":
		return &S3Source{Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/"), Format: format}, nil
	case "minio":
		return newMinioSource(u, format)
	case "http", "https":
		return newHTTPSource(u, format), nil
	default:
		return nil, fmt.Errorf("unsupported dataset location scheme %q", scheme)
	}
}

func isSQLiteName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// decodeBlob decodes an opened snapshot and tags decode failures as corrupt.
func decodeBlob(rc io.ReadCloser, name string, format Format) ([]Row, error) {
	defer rc.Close()

	rows, err := DecodeNamed(rc, name, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return rows, nil
}

func notFound(location string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNotFound, location, err)
}
