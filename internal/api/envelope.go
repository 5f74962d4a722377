package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the uniform shape of every backend response, success or error.
type Envelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

// Pagination is the page metadata returned by list endpoints.
// NextPage is nil on the last page.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	NextPage    *int `json:"next_page"`
	TotalPages  int  `json:"total_pages"`
	RowsPerPage int  `json:"rows_per_page"`
	TotalRows   int  `json:"total_rows"`
	From        int  `json:"from"`
	To          int  `json:"to"`
}

// Page is one page of a list endpoint.
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// HasMore reports whether the server advertises a following page.
func (p Page[T]) HasMore() bool {
	return p.Pagination.NextPage != nil
}

// Validate checks the server's pagination invariants: next_page is null
// exactly on the last page, and a page never holds more than rows_per_page
// items. An empty result (total_pages 0) counts as its own last page.
func (p Page[T]) Validate() error {
	pg := p.Pagination
	last := pg.CurrentPage >= pg.TotalPages

	if last && pg.NextPage != nil {
		return fmt.Errorf("api: page %d of %d advertises next_page %d", pg.CurrentPage, pg.TotalPages, *pg.NextPage)
	}

	if !last && pg.NextPage == nil {
		return fmt.Errorf("api: page %d of %d has no next_page", pg.CurrentPage, pg.TotalPages)
	}

	if pg.RowsPerPage > 0 && len(p.Items) > pg.RowsPerPage {
		return fmt.Errorf("api: page holds %d items, rows_per_page is %d", len(p.Items), pg.RowsPerPage)
	}

	return nil
}

// tokenData is the data payload of the login and renewal endpoints.
type tokenData struct {
	AccessToken string `json:"access_token"`
}

// decodeEnvelope unmarshals an envelope and returns its data.
// An empty body (204) or a null data field yields the zero value of T.
func decodeEnvelope[T any](body []byte) (T, error) {
	var zero T

	if len(bytes.TrimSpace(body)) == 0 {
		return zero, nil
	}

	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return zero, fmt.Errorf("api: decoding response envelope: %w", err)
	}

	if env.Data == nil {
		return zero, nil
	}

	return *env.Data, nil
}

// envelopeMessage extracts the envelope's message from an error body, falling
// back to the raw body when it is not an envelope.
func envelopeMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
	}

	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}

	return string(body)
}
