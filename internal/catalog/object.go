package catalog

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/storage"
)

const pointerSuffix = ".pointer"

// ObjectCatalog keeps each table pointer in an object of its own and
// commits with the store's CompareAndSwap. It needs no service besides
// the object store.
type ObjectCatalog struct {
	store  storage.ObjectStore
	prefix string
}

// NewObjectCatalog creates a catalog whose pointers live under prefix.
func NewObjectCatalog(store storage.ObjectStore, prefix string) *ObjectCatalog {
	if prefix == "" {
		prefix = "_catalog"
	}
	return &ObjectCatalog{store: store, prefix: strings.TrimSuffix(prefix, "/")}
}

func (c *ObjectCatalog) pointerKey(id Identifier) string {
	return path.Join(c.prefix, id.Namespace, id.Name+pointerSuffix)
}

// CreateTable writes the pointer only if it does not exist yet.
func (c *ObjectCatalog) CreateTable(ctx context.Context, id Identifier, metadataLocation string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	ok, err := c.store.CompareAndSwap(ctx, c.pointerKey(id), nil, []byte(metadataLocation))
	if err != nil {
		return strataerrors.NewStorageError(strataerrors.CodeUploadFailed, "create table pointer", err)
	}
	if !ok {
		return alreadyExists(id)
	}
	return nil
}

func (c *ObjectCatalog) LoadTable(ctx context.Context, id Identifier) (string, error) {
	data, err := c.store.Get(ctx, c.pointerKey(id))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", notFound(id)
	}
	if err != nil {
		return "", strataerrors.NewStorageError(strataerrors.CodeDownloadFailed, "read table pointer", err)
	}
	return string(data), nil
}

func (c *ObjectCatalog) Commit(ctx context.Context, id Identifier, expected, next string) error {
	ok, err := c.store.CompareAndSwap(ctx, c.pointerKey(id), []byte(expected), []byte(next))
	if err != nil {
		return strataerrors.NewStorageError(strataerrors.CodeUploadFailed, "swap table pointer", err)
	}
	if ok {
		return nil
	}
	actual, err := c.LoadTable(ctx, id)
	if err != nil {
		return err
	}
	return conflict(id, expected, actual)
}

func (c *ObjectCatalog) DropTable(ctx context.Context, id Identifier) error {
	if _, err := c.LoadTable(ctx, id); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, c.pointerKey(id)); err != nil {
		return strataerrors.NewStorageError(strataerrors.CodeUploadFailed, "delete table pointer", err)
	}
	return nil
}

// ListTables lists pointer objects. It is the only catalog call that
// lists the store.
func (c *ObjectCatalog) ListTables(ctx context.Context, namespace string) ([]Identifier, error) {
	objs, err := c.store.List(ctx, path.Join(c.prefix, namespace)+"/")
	if err != nil {
		return nil, strataerrors.NewStorageError(strataerrors.CodeDownloadFailed, "list tables", err)
	}
	var out []Identifier
	for _, o := range objs {
		rel := strings.TrimPrefix(o.Key, path.Join(c.prefix, namespace)+"/")
		if strings.Contains(rel, "/") || !strings.HasSuffix(rel, pointerSuffix) {
			continue
		}
		out = append(out, Identifier{Namespace: namespace, Name: strings.TrimSuffix(rel, pointerSuffix)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *ObjectCatalog) TableExists(ctx context.Context, id Identifier) (bool, error) {
	ok, err := c.store.Exists(ctx, c.pointerKey(id))
	if err != nil {
		return false, strataerrors.NewStorageError(strataerrors.CodeDownloadFailed, "check table pointer", err)
	}
	return ok, nil
}

func (c *ObjectCatalog) Close() error { return nil }
