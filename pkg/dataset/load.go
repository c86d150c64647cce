package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

type loadOptions struct {
	logger *slog.Logger
	format Format
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithLogger sets the logger used to report skipped and chosen candidates.
func WithLogger(logger *slog.Logger) LoadOption {
	return func(o *loadOptions) { o.logger = logger }
}

// WithFormat forces the snapshot format instead of inferring it per location.
func WithFormat(format Format) LoadOption {
	return func(o *loadOptions) { o.format = format }
}

// Load resolves the candidate locations in order and builds a Store from the
// first snapshot that exists.
//
// A candidate that cannot be parsed, or whose snapshot is missing or
// unreachable, is skipped. Once a snapshot is found it is authoritative: if it
// cannot be decoded Load returns a Corrupt LoadError without trying the
// remaining candidates. If no candidate
// resolves, Load returns a NotFound LoadError joining every cause.
func Load(ctx context.Context, locations []string, opts ...LoadOption) (*Store, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	sources := make([]Source, 0, len(locations))
	for _, loc := range locations {
		src, err := ParseLocation(loc, o.format)
		if err != nil {
			src = &unparsedSource{location: loc, err: err}
		}
		sources = append(sources, src)
	}

	return LoadSources(ctx, sources, o.logger)
}

// LoadSources is Load over already constructed sources.
func LoadSources(ctx context.Context, sources []Source, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(sources) == 0 {
		return nil, &LoadError{Reason: NotFound, Err: errors.New("no candidate locations configured")}
	}

	var misses []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, &LoadError{Reason: NotFound, Location: src.Location(), Err: err}
		}

		rows, err := src.Rows(ctx)
		if err != nil {
			if errors.Is(err, ErrCorrupt) {
				return nil, &LoadError{Reason: Corrupt, Location: src.Location(), Err: err}
			}
			logger.Debug("dataset candidate skipped", "location", src.Location(), "error", err)
			misses = append(misses, err)
			continue
		}

		store, err := New(rows, src.Location())
		if err != nil {
			return nil, err
		}

		logger.Info("dataset loaded", "location", src.Location(), "rows", store.Len())
		return store, nil
	}

	return nil, &LoadError{
		Reason:   NotFound,
		Location: describe(sources),
		Err:      errors.Join(misses...),
	}
}

func describe(sources []Source) string {
	locs := make([]string, len(sources))
	for i, s := range sources {
		locs[i] = s.Location()
	}
	return fmt.Sprintf("[%s]", strings.Join(locs, ", "))
}

// unparsedSource stands in for a location ParseLocation rejected, so it is
// skipped like any other candidate that does not resolve.
type unparsedSource struct {
	location string
	err      error
}

func (s *unparsedSource) Location() string { return s.location }

func (s *unparsedSource) Rows(context.Context) ([]Row, error) {
	return nil, notFound(s.location, s.err)
}
