package dataset

import (
	"context"
	"errors"
	"os"
)

// FileSource reads a snapshot from the local filesystem.
type FileSource struct {
	Path   string
	Format Format
}

func (s *FileSource) Location() string { return s.Path }

// Rows implements Source.
func (s *FileSource) Rows(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, notFound(s.Path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, notFound(s.Path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, notFound(s.Path, errors.New("is a directory"))
	}

	return decodeBlob(f, s.Path, s.Format)
}
