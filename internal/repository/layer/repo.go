package layer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kailas-cloud/mapcluster/internal/db"
	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
)

// store is the consumer interface for layers (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements usecase/layer.Repository. Layer metadata is a JSON string
// at {prefix}meta:{layer}; every item is a hash at
// {prefix}layer:{layer}:item:{id}. Item ids come from the counter at
// {prefix}layer:{layer}:seq, which outlives the layer so a recreated layer
// never reuses an id.
type Repo struct {
	store  store
	prefix string
}

// New creates a layer repository.
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix}
}

// Create stores a new layer.
func (r *Repo) Create(ctx context.Context, l domlayer.Layer) error {
	data, err := json.Marshal(toMeta(l))
	if err != nil {
		return fmt.Errorf("marshal layer: %w", err)
	}
	ok, err := r.store.SetNX(ctx, r.metaKey(l.Name()), data)
	if err != nil {
		return fmt.Errorf("create layer %s: %w", l.Name(), err)
	}
	if !ok {
		return fmt.Errorf("layer %s: %w", l.Name(), domain.ErrAlreadyExists)
	}
	return nil
}

// Save overwrites the metadata of an existing layer.
func (r *Repo) Save(ctx context.Context, l domlayer.Layer) error {
	data, err := json.Marshal(toMeta(l))
	if err != nil {
		return fmt.Errorf("marshal layer: %w", err)
	}
	if err := r.store.Set(ctx, r.metaKey(l.Name()), data); err != nil {
		return fmt.Errorf("save layer %s: %w", l.Name(), err)
	}
	return nil
}

// Get returns a layer by name.
func (r *Repo) Get(ctx context.Context, name string) (domlayer.Layer, error) {
	data, err := r.store.Get(ctx, r.metaKey(name))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domlayer.Layer{}, fmt.Errorf("layer %s: %w", name, domain.ErrNotFound)
		}
		return domlayer.Layer{}, fmt.Errorf("get layer %s: %w", name, err)
	}
	var m layerMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return domlayer.Layer{}, fmt.Errorf("unmarshal layer %s: %w", name, err)
	}
	return m.toDomain(), nil
}

// List returns all layer names, sorted.
func (r *Repo) List(ctx context.Context) ([]string, error) {
	keys, err := r.store.Scan(ctx, r.prefix+"meta:*")
	if err != nil {
		return nil, fmt.Errorf("scan layers: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, r.prefix+"meta:"))
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes a layer and all of its items.
func (r *Repo) Delete(ctx context.Context, name string) error {
	exists, err := r.store.Exists(ctx, r.metaKey(name))
	if err != nil {
		return fmt.Errorf("check exists %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("layer %s: %w", name, domain.ErrNotFound)
	}

	keys, err := r.store.Scan(ctx, r.itemPattern(name))
	if err != nil {
		return fmt.Errorf("scan items %s: %w", name, err)
	}
	keys = append(keys, r.metaKey(name))
	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete layer %s: %w", name, err)
	}
	return nil
}

// PutItems stores entries in a single pipelined round-trip.
func (r *Repo) PutItems(ctx context.Context, name string, entries []domlayer.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := make([]db.HashSetItem, len(entries))
	for i, e := range entries {
		fields, err := buildItemFields(e)
		if err != nil {
			return err
		}
		batch[i] = db.HashSetItem{Key: r.itemKey(name, e.ID), Fields: fields}
	}
	if err := r.store.HSetMulti(ctx, batch); err != nil {
		return fmt.Errorf("put items %s: %w", name, err)
	}
	return nil
}

// ReserveIDs allocates n consecutive item ids and returns the first one.
func (r *Repo) ReserveIDs(ctx context.Context, name string, n int) (item.ID, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve %d ids: %w", n, domain.ErrInvalidArgument)
	}
	last, err := r.store.IncrBy(ctx, r.seqKey(name), int64(n))
	if err != nil {
		return 0, fmt.Errorf("reserve ids %s: %w", name, err)
	}
	if last < int64(n) || item.ID(last).Generated() {
		return 0, fmt.Errorf("layer %s id sequence at %d: %w", name, last, domain.ErrLimitExceeded)
	}
	return item.ID(last - int64(n) + 1), nil
}

// DeleteItems removes stored items without checking that they exist.
func (r *Repo) DeleteItems(ctx context.Context, name string, ids []item.ID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.itemKey(name, id)
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete items %s: %w", name, err)
	}
	return nil
}

// DeleteItem removes a stored item.
func (r *Repo) DeleteItem(ctx context.Context, name string, id item.ID) error {
	key := r.itemKey(name, id)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("item %d in layer %s: %w", id, name, domain.ErrNotFound)
	}
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// LoadItems returns every stored item of a layer, ordered by id.
func (r *Repo) LoadItems(ctx context.Context, name string) ([]domlayer.Entry, error) {
	keys, err := r.store.Scan(ctx, r.itemPattern(name))
	if err != nil {
		return nil, fmt.Errorf("scan items %s: %w", name, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	ids := make([]item.ID, len(keys))
	for i, k := range keys {
		id, err := r.parseItemKey(name, k)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load items %s: %w", name, err)
	}

	entries := make([]domlayer.Entry, 0, len(hashes))
	for i, h := range hashes {
		if len(h) == 0 {
			continue // deleted between SCAN and HGETALL
		}
		e, err := parseItemFields(ids[i], h)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b domlayer.Entry) int { return cmp.Compare(a.ID, b.ID) })
	return entries, nil
}

func (r *Repo) metaKey(name string) string {
	return r.prefix + "meta:" + name
}

func (r *Repo) itemKey(name string, id item.ID) string {
	return r.prefix + "layer:" + name + ":item:" + strconv.FormatUint(uint64(id), 10)
}

func (r *Repo) seqKey(name string) string {
	return r.prefix + "layer:" + name + ":seq"
}

func (r *Repo) itemPattern(name string) string {
	return r.prefix + "layer:" + name + ":item:*"
}

func (r *Repo) parseItemKey(name, key string) (item.ID, error) {
	raw := strings.TrimPrefix(key, r.prefix+"layer:"+name+":item:")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed item key %q: %w", key, err)
	}
	return item.ID(id), nil
}
