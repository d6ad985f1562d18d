package world

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/boltstore"
)

// BlobStore persists encoded world layouts by name.
type BlobStore interface {
	// GetWorld returns the stored layout. ok is false when the world has
	// never been created.
	GetWorld(name string) (id int, blob []byte, ok bool, err error)
	// CreateWorld stores a new layout and assigns its id.
	CreateWorld(name string, blob []byte) (int, error)
	// WorldNames lists every stored world.
	WorldNames() ([]string, error)
}

// StoreLoader loads worlds from a BlobStore, generating and saving a fresh
// layout the first time a name is requested. It also serves as the catalog
// of known worlds.
type StoreLoader struct {
	store  BlobStore
	width  int
	height int
	log    *zap.Logger
}

// NewStoreLoader creates a loader generating worlds of the given size.
func NewStoreLoader(store BlobStore, width, height int, log *zap.Logger) *StoreLoader {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StoreLoader{store: store, width: width, height: height, log: log.Named("loader")}
}

// Load implements Loader.
func (l *StoreLoader) Load(ctx context.Context, name string) (*World, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, _, ok, err := l.store.GetWorld(name)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	layout := Generate(name, l.width, l.height)
	if !ok {
		id, err = l.store.CreateWorld(name, layout.Encode())
		switch {
		case errors.Is(err, boltstore.ErrExists):
			// Another delivery loop created it first.
			if id, _, ok, err = l.store.GetWorld(name); err == nil && !ok {
				err = ErrNotFound
			}
			if err != nil {
				return nil, fmt.Errorf("get %s: %w", name, err)
			}
		case err != nil:
			return nil, fmt.Errorf("create %s: %w", name, err)
		default:
			l.log.Info("world generated", zap.String("world", name), zap.Int("id", id))
		}
	}
	w := New(id, name)
	w.Spawn = layout.Door
	return w, nil
}

// Snapshot implements Loader.
func (l *StoreLoader) Snapshot(ctx context.Context, w *World) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, blob, ok, err := l.store.GetWorld(w.Name)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", w.Name, err)
	}
	if !ok {
		return nil, fmt.Errorf("get %s: %w", w.Name, ErrNotFound)
	}
	return blob, nil
}

// Names implements Catalog.
func (l *StoreLoader) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.WorldNames()
}
