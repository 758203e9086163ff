package bars

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/pkg/conn"
	"main/pkg/exception"
)

// Store caches fetched bars in postgres so repeated backtests of the
// same window skip the exchange entirely.
type Store struct {
	client *conn.Client
}

func NewStore(client *conn.Client) (*Store, error) {
	if client == nil || client.DB() == nil {
		return nil, exception.ErrBarsNilStore
	}
	if err := client.Migrate(&Bar{}); err != nil {
		return nil, errors.Wrap(err, "migrate bars table")
	}
	return &Store{client: client}, nil
}

// Save upserts bars on their (pair, granularity, open time) key.
func (s *Store) Save(ctx context.Context, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&bars).Error
}

// Load returns cached bars for the window, oldest first.
func (s *Store) Load(ctx context.Context, req Request) ([]Bar, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var bars []Bar
	err := s.client.DB().WithContext(ctx).
		Where("pair = ? AND granularity = ? AND open_time >= ? AND open_time < ?",
			req.Pair, req.Granularity, req.Start.UTC(), req.End.UTC()).
		Order("open_time ASC").
		Find(&bars).Error
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// FetchCached serves the window from the cache when it is complete,
// otherwise fetches from the exchange and stores the result.
func (s *Store) FetchCached(ctx context.Context, f *Fetcher, req Request) ([]Bar, error) {
	cached, err := s.Load(ctx, req)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	expected := int(req.End.Sub(req.Start).Seconds()) / req.Granularity
	if len(cached) >= expected && expected > 0 {
		return cached, nil
	}

	bars, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, bars); err != nil {
		logs.Errorf("cache %d bars for %s: %+v", len(bars), req.Pair, err)
	}
	return bars, nil
}
