package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/model"
)

const wallpaperIndexKey = "wallpapers"

// WallpaperRepository persists wallpaper records and their display state.
type WallpaperRepository interface {
	assetstate.SnapshotStore
	Create(ctx context.Context, w *model.Wallpaper, snap assetstate.Snapshot) error
	Get(ctx context.Context, id string) (*model.Wallpaper, error)
	List(ctx context.Context) ([]*model.Wallpaper, error)
	// CommitRecord writes w and swaps its snapshot in one step, only if the
	// stored snapshot still equals prev.
	CommitRecord(ctx context.Context, w *model.Wallpaper, prev, next assetstate.Snapshot) (bool, error)
}

// WallpaperStore keeps wallpapers in Redis. Records have no TTL; the index
// is a sorted set scored by creation time.
type WallpaperStore struct {
	redis *redis.Client
}

func NewWallpaperStore(redisClient *redis.Client) *WallpaperStore {
	return &WallpaperStore{redis: redisClient}
}

func recordKey(id string) string { return fmt.Sprintf("wallpaper:%s", id) }
func stateKey(id string) string  { return fmt.Sprintf("wallpaper:%s:state", id) }

// Create stores a new record together with its initial snapshot
func (s *WallpaperStore) Create(ctx context.Context, w *model.Wallpaper, snap assetstate.Snapshot) error {
	record, err := json.Marshal(w)
	if err != nil {
		return err
	}
	state, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(w.ID), record, 0)
		pipe.Set(ctx, stateKey(w.ID), state, 0)
		pipe.ZAdd(ctx, wallpaperIndexKey, redis.Z{Score: float64(w.CreatedAt.UnixNano()), Member: w.ID})
		return nil
	})
	return err
}

// Get returns the record for id
func (s *WallpaperStore) Get(ctx context.Context, id string) (*model.Wallpaper, error) {
	data, err := s.redis.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrWallpaperNotFound, id)
		}
		return nil, err
	}

	var w model.Wallpaper
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// List returns all records, newest first
func (s *WallpaperStore) List(ctx context.Context) ([]*model.Wallpaper, error) {
	ids, err := s.redis.ZRevRange(ctx, wallpaperIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.Wallpaper{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	wallpapers := make([]*model.Wallpaper, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // index entry without record
		}
		var w model.Wallpaper
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, err
		}
		wallpapers = append(wallpapers, &w)
	}
	return wallpapers, nil
}

// LoadSnapshot implements assetstate.SnapshotStore
func (s *WallpaperStore) LoadSnapshot(ctx context.Context, id string) (assetstate.Snapshot, error) {
	return loadSnapshot(ctx, s.redis, id)
}

// SwapSnapshot implements assetstate.SnapshotStore with WATCH/MULTI
func (s *WallpaperStore) SwapSnapshot(ctx context.Context, id string, prev, next assetstate.Snapshot) (bool, error) {
	return s.swap(ctx, id, prev, next, nil)
}

// CommitRecord implements WallpaperRepository
func (s *WallpaperStore) CommitRecord(ctx context.Context, w *model.Wallpaper, prev, next assetstate.Snapshot) (bool, error) {
	record, err := json.Marshal(w)
	if err != nil {
		return false, err
	}
	return s.swap(ctx, w.ID, prev, next, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, recordKey(w.ID), record, 0)
	})
}

func (s *WallpaperStore) swap(ctx context.Context, id string, prev, next assetstate.Snapshot, also func(redis.Pipeliner)) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, err
	}

	key := stateKey(id)
	swapped := false
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadSnapshot(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur != prev {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if also != nil {
				also(pipe)
			}
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key, recordKey(id))

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return swapped, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadSnapshot(ctx context.Context, c getter, id string) (assetstate.Snapshot, error) {
	data, err := c.Get(ctx, stateKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return assetstate.Snapshot{}, fmt.Errorf("%w: %w", ErrWallpaperNotFound, assetstate.ErrUnknownAsset)
		}
		return assetstate.Snapshot{}, err
	}

	var snap assetstate.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return assetstate.Snapshot{}, err
	}
	return snap, nil
}
