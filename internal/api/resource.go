package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Resource is a CRUD endpoint such as /items or /machines. Every master-data
// screen is a Resource plus a list query and a handful of mutations.
type Resource[T any] struct {
	client *Client
	path   string
}

// NewResource binds path (e.g. "/reasons") to c.
func NewResource[T any](c *Client, path string) *Resource[T] {
	return &Resource[T]{client: c, path: "/" + strings.Trim(path, "/")}
}

// Path returns the collection path.
func (r *Resource[T]) Path() string {
	return r.path
}

func (r *Resource[T]) itemPath(id string) string {
	return r.path + "/" + url.PathEscape(id)
}

// List fetches one page.
func (r *Resource[T]) List(ctx context.Context, lp ListParams, page int) (Page[T], error) {
	return FetchPage[T](ctx, r.client, r.path, lp, page)
}

// Get fetches one entity.
func (r *Resource[T]) Get(ctx context.Context, id string) (T, error) {
	return Fetch[T](ctx, r.client, r.itemPath(id), nil)
}

// Create posts a new entity and returns the server's representation.
func (r *Resource[T]) Create(ctx context.Context, body any) (T, error) {
	return Send[T](ctx, r.client, http.MethodPost, r.path, body)
}

// Update replaces an entity.
func (r *Resource[T]) Update(ctx context.Context, id string, body any) (T, error) {
	return Send[T](ctx, r.client, http.MethodPut, r.itemPath(id), body)
}

// Delete removes an entity.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	_, err := Send[json.RawMessage](ctx, r.client, http.MethodDelete, r.itemPath(id), nil)
	return err
}
