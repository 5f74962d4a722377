package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Param is one query parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of query parameters with unique keys.
// The zero value is ready to use.
type Params []Param

// Set returns a copy of p with key set to value. An existing key keeps its
// position; a new key is appended.
func (p Params) Set(key, value string) Params {
	out := slices.Clone(p)

	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}

	return append(out, Param{Key: key, Value: value})
}

// Get returns the value of key and whether it is present.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}

	return "", false
}

// Encode renders the parameters as a query string in insertion order.
func (p Params) Encode() string {
	var b strings.Builder

	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}

		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}

	return b.String()
}

// Request describes one API call. A Request is never modified after it is
// issued; replays reuse it as-is.
type Request struct {
	Method string
	Path   string
	Query  Params
	Body   []byte
}

// NewRequest builds a request, JSON-encoding body when it is not nil.
func NewRequest(method, path string, query Params, body any) (Request, error) {
	req := Request{Method: method, Path: path, Query: slices.Clone(query)}

	if body == nil {
		return req, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("api: encoding %s %s body: %w", method, path, err)
	}

	req.Body = data

	return req, nil
}

// URL returns the path plus encoded query, relative to the base URL.
func (r Request) URL() string {
	if len(r.Query) == 0 {
		return r.Path
	}

	return r.Path + "?" + r.Query.Encode()
}

// ListParams are the common list endpoint parameters.
type ListParams struct {
	Page     int
	Rows     int
	Search   string
	SortBy   string
	SortDesc bool
	Filters  map[string]string
}

// Params encodes the list parameters for the given page: page, rows,
// search, sortBy, sortDirection (true meaning descending), then filters in
// key order. Empty optional values are omitted.
func (lp ListParams) Params(page int) Params {
	if page < 1 {
		page = 1
	}

	var p Params

	p = p.Set("page", strconv.Itoa(page))
	if lp.Rows > 0 {
		p = p.Set("rows", strconv.Itoa(lp.Rows))
	}

	if lp.Search != "" {
		p = p.Set("search", lp.Search)
	}

	if lp.SortBy != "" {
		p = p.Set("sortBy", lp.SortBy)
		p = p.Set("sortDirection", strconv.FormatBool(lp.SortDesc))
	}

	keys := make([]string, 0, len(lp.Filters))
	for k := range lp.Filters {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	for _, k := range keys {
		p = p.Set(k, lp.Filters[k])
	}

	return p
}
