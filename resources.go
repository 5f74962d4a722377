package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/adminctl/internal/api"
	"github.com/tonimelisma/adminctl/internal/query"
)

// getConcurrency bounds parallel fetches for `get` with several ids.
const getConcurrency = 4

// listOptions are the flags shared by list and search.
type listOptions struct {
	search      string
	sortBy      string
	desc        bool
	filters     map[string]string
	rows        int
	page        int
	all         bool
	parent      string
	parentField string
}

func (o *listOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.search, "search", "", "free-text search")
	cmd.Flags().StringVar(&o.sortBy, "sort", "", "column to sort by")
	cmd.Flags().BoolVar(&o.desc, "desc", false, "sort descending")
	cmd.Flags().StringToStringVar(&o.filters, "filter", nil, "column filter as key=value (repeatable)")
	cmd.Flags().IntVar(&o.rows, "rows", 0, "rows per page (default rows_per_page from config)")
	cmd.Flags().StringVar(&o.parent, "parent", "", "only list rows belonging to this parent, as resource/id (e.g. groups/7)")
	cmd.Flags().StringVar(&o.parentField, "parent-field", "", "filter column that holds the parent id (default <parent resource>_id)")
}

// params builds the list parameters, falling back to the configured page size.
func (o *listOptions) params(defaultRows int) api.ListParams {
	rows := o.rows
	if rows <= 0 {
		rows = defaultRows
	}

	filters := make(map[string]string, len(o.filters))
	for k, v := range o.filters {
		filters[k] = v
	}

	return api.ListParams{
		Rows:     rows,
		Search:   o.search,
		SortBy:   o.sortBy,
		SortDesc: o.desc,
		Filters:  filters,
	}
}

// listKey is the cache identity of a list: everything that changes the
// server's answer except the page number.
func listKey(resource string, lp api.ListParams) query.Key {
	params := map[string]any{
		"rows":   lp.Rows,
		"search": lp.Search,
		"sortBy": lp.SortBy,
		"desc":   lp.SortDesc,
	}

	if len(lp.Filters) > 0 {
		params["filters"] = lp.Filters
	}

	return query.NewKey(resource, params)
}

// listParamsFromKey recovers the list parameters a key was built from.
func listParamsFromKey(key query.Key) api.ListParams {
	var lp api.ListParams

	lp.Rows, _ = key.Params["rows"].(int)
	lp.Search, _ = key.Params["search"].(string)
	lp.SortBy, _ = key.Params["sortBy"].(string)
	lp.SortDesc, _ = key.Params["desc"].(bool)

	if filters, ok := key.Params["filters"].(map[string]string); ok {
		lp.Filters = maps.Clone(filters)
	}

	return lp
}

// parentRef is a --parent value split into resource and id.
type parentRef struct {
	resource string
	id       string
	field    string
}

func parseParent(value, field string) (parentRef, error) {
	res, id, ok := strings.Cut(strings.Trim(value, "/"), "/")
	if !ok || res == "" || id == "" {
		return parentRef{}, fmt.Errorf("invalid --parent %q: want resource/id", value)
	}

	if field == "" {
		field = strings.TrimSuffix(res, "s") + "_id"
	}

	return parentRef{resource: res, id: id, field: field}, nil
}

// lister loads a list through an infinite query. With a parent, the list
// is gated until the parent record has been fetched and its id is known.
type lister struct {
	cc       *CLIContext
	cache    *query.Cache
	client   *api.Client
	resource string
	lp       api.ListParams

	parent   *parentRef
	parentID any
	inf      *query.Infinite[record]
}

func newLister(cc *CLIContext, cache *query.Cache, client *api.Client, resource string, lp api.ListParams, parent *parentRef) *lister {
	l := &lister{
		cc:       cc,
		cache:    cache,
		client:   client,
		resource: resource,
		lp:       lp,
		parent:   parent,
	}

	res := api.NewResource[record](client, resource)

	// The key carries every list parameter, parent filter included, so a
	// page is always fetched for the key it was requested under.
	l.inf = query.NewInfinite(cache, listKey(resource, lp),
		func(ctx context.Context, key query.Key, page int) (api.Page[record], error) {
			return res.List(ctx, listParamsFromKey(key), page)
		},
		query.WithInfiniteEnabled[record](l.gate()),
		query.WithInfiniteLogger[record](cc.Logger),
	)

	return l
}

func (l *lister) gate() query.Gate {
	if l.parent == nil {
		return query.Always
	}

	return query.Present(&l.parentID)
}

// listParams adds the resolved parent id to the filters.
func (l *lister) listParams() api.ListParams {
	lp := l.lp
	if l.parent == nil || l.parentID == nil {
		return lp
	}

	filters := make(map[string]string, len(lp.Filters)+1)
	for k, v := range lp.Filters {
		filters[k] = v
	}

	filters[l.parent.field] = formatCell(l.parentID)
	lp.Filters = filters

	return lp
}

// resolveParent fetches the parent record and opens the gate. The list key
// gains the parent id so lists under different parents never share pages.
func (l *lister) resolveParent(ctx context.Context) error {
	if l.parent == nil {
		return nil
	}

	ref := *l.parent
	parentRes := api.NewResource[record](l.client, ref.resource)

	pq := query.NewQuery(l.cache, query.NewKey(ref.resource, map[string]any{"id": ref.id}),
		func(ctx context.Context, _ query.Key) (record, error) {
			return parentRes.Get(ctx, ref.id)
		}, l.cc.queryOptions()...)

	r := pq.Get(ctx)
	if r.Err != nil {
		return fmt.Errorf("loading parent %s/%s: %w", ref.resource, ref.id, r.Err)
	}

	id, ok := r.Data["id"]
	if !ok || id == nil {
		return fmt.Errorf("parent %s/%s has no id", ref.resource, ref.id)
	}

	l.parentID = id
	l.cc.Logger.Debug("parent resolved",
		slog.String("resource", ref.resource),
		slog.String("id", formatCell(id)),
	)

	return nil
}

// key is the cache key of the list as currently configured. A page of the
// infinite list and the same page loaded alone share one cache entry.
func (l *lister) key() query.Key {
	key := listKey(l.resource, l.listParams())
	if l.parentID != nil {
		key = key.With("parent", l.parentID)
	}

	return key
}

// load fetches page 1, or every page when all is set. A list whose cached
// pages were invalidated starts over from page 1.
func (l *lister) load(ctx context.Context, all bool) error {
	if err := l.resolveParent(ctx); err != nil {
		return err
	}

	if err := l.inf.SetKey(ctx, l.key()); err != nil {
		return err
	}

	if err := l.inf.Load(ctx); err != nil {
		return err
	}

	if all {
		return l.inf.FetchAll(ctx)
	}

	return nil
}

// loadPage fetches one specific page through the cache.
func (l *lister) loadPage(ctx context.Context, page int) (api.Page[record], error) {
	if err := l.resolveParent(ctx); err != nil {
		return api.Page[record]{}, err
	}

	res := api.NewResource[record](l.client, l.resource)

	key := l.key().With("page", page)

	q := query.NewQuery(l.cache, key,
		func(ctx context.Context, key query.Key) (api.Page[record], error) {
			return res.List(ctx, listParamsFromKey(key), page)
		},
		l.cc.queryOptions(query.WithEnabled(l.gate()))...,
	)

	r := q.Get(ctx)

	return r.Data, r.Err
}

func newListCmd() *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List the rows of a resource",
		Long: `List the rows of a master-data resource, one page at a time.

Examples:
  adminctl list reasons --search drill --sort code
  adminctl list items --all --json
  adminctl list subgroups --parent groups/7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, args[0], &opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().IntVar(&opts.page, "page", 1, "page to show")
	cmd.Flags().BoolVar(&opts.all, "all", false, "fetch every page")
	cmd.MarkFlagsMutuallyExclusive("page", "all")

	return cmd
}

func runList(cmd *cobra.Command, resource string, opts *listOptions) error {
	cc := cliContextFrom(cmd.Context())
	ctx := cmd.Context()

	var parent *parentRef

	if opts.parent != "" {
		ref, err := parseParent(opts.parent, opts.parentField)
		if err != nil {
			return err
		}

		parent = &ref
	}

	return cc.withClient(ctx, func(client *api.Client) error {
		l := newLister(cc, cc.newCache(), client, resource, opts.params(cc.Cfg.RowsPerPage), parent)

		if opts.page > 1 {
			page, err := l.loadPage(ctx, opts.page)
			if err != nil {
				return err
			}

			return printPage(cc, page)
		}

		if err := l.load(ctx, opts.all); err != nil {
			return err
		}

		if opts.all {
			items := l.inf.Items()
			if items == nil {
				items = []record{}
			}

			if cc.Flags.JSON {
				return printJSON(cc.Out, items)
			}

			printRecords(cc.Out, items)
			cc.Statusf("%d rows.\n", len(items))

			return nil
		}

		pages := l.inf.Pages()
		if len(pages) == 0 {
			return errors.New("no page returned")
		}

		return printPage(cc, pages[0])
	})
}

func printPage(cc *CLIContext, page api.Page[record]) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, page)
	}

	printRecords(cc.Out, page.Items)

	p := page.Pagination
	if p.TotalPages > 0 {
		cc.Statusf("Page %d of %d (%d rows).", p.CurrentPage, p.TotalPages, p.TotalRows)

		if page.HasMore() {
			cc.Statusf(" Next: --page %d, or --all.", *p.NextPage)
		}

		cc.Statusf("\n")
	}

	return nil
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>...",
		Short: "Show one or more rows by id",
		Long: `Show rows by id. Several ids are fetched concurrently.

Example:
  adminctl get reasons 4 9 12`,
		Args: cobra.MinimumNArgs(2),
		RunE: runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := cliContextFrom(cmd.Context())
	ctx := cmd.Context()
	resource, ids := args[0], args[1:]

	return cc.withClient(ctx, func(client *api.Client) error {
		rows, err := getRecords(ctx, cc.newCache(), api.NewResource[record](client, resource), ids, cc.queryOptions()...)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			if len(rows) == 1 {
				return printJSON(cc.Out, rows[0])
			}

			return printJSON(cc.Out, rows)
		}

		printRecords(cc.Out, rows)

		return nil
	})
}

// getRecords fetches ids concurrently into cache and returns them in
// argument order. Repeated ids share one request.
func getRecords(ctx context.Context, cache *query.Cache, res *api.Resource[record], ids []string, opts ...query.Option) ([]record, error) {
	queries := make([]*query.Query[record], len(ids))
	loaders := make([]query.Loader, len(ids))

	for i, id := range ids {
		queries[i] = query.NewQuery(cache, query.NewKey(strings.Trim(res.Path(), "/"), map[string]any{"id": id}),
			func(ctx context.Context, _ query.Key) (record, error) {
				return res.Get(ctx, id)
			}, opts...)
		loaders[i] = query.Load(queries[i])
	}

	if err := query.Prefetch(ctx, getConcurrency, loaders...); err != nil {
		return nil, err
	}

	rows := make([]record, len(ids))
	for i, q := range queries {
		rows[i] = q.Result().Data
	}

	return rows, nil
}

// readBody returns the --data value, reading standard input for "-".
func readBody(cmd *cobra.Command, data string) (record, error) {
	raw := []byte(data)

	if data == "" || data == "-" {
		var err error

		if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
	}

	var body record
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}

	return body, nil
}

// mutationFor wraps fn so a success refreshes l: everything cached under
// the resource is invalidated and the list is reloaded from page 1 to report
// the new total.
func mutationFor[In any](cc *CLIContext, l *lister, verb string,
	fn func(ctx context.Context, in In) (record, error),
) *query.Mutation[In, record] {
	resource := l.resource

	return &query.Mutation[In, record]{
		Fn: fn,
		OnSuccess: func(ctx context.Context, _ record, _ In) {
			n := l.cache.InvalidateResource(resource)
			cc.Logger.Debug("invalidated cached lists",
				slog.String("resource", resource),
				slog.Int("entries", n),
			)

			if err := l.load(ctx, false); err != nil {
				cc.Logger.Warn("refreshing list after mutation", slog.String("error", err.Error()))
				return
			}

			pages := l.inf.Pages()
			if len(pages) == 0 {
				return
			}

			cc.Statusf("%s %s. %s now has %d rows.\n", resource, verb, resource, pages[0].Pagination.TotalRows)
		},
		OnError: func(_ context.Context, err error, _ In) {
			cc.Logger.Debug("mutation failed",
				slog.String("resource", resource),
				slog.String("verb", verb),
				slog.String("error", err.Error()),
			)
		},
	}
}

// totalsLister is the one-row list a mutation reloads to report the new
// total.
func totalsLister(cc *CLIContext, client *api.Client, resource string) *lister {
	return newLister(cc, cc.newCache(), client, resource, api.ListParams{Rows: 1}, nil)
}

type updateInput struct {
	id   string
	body record
}

func newCreateCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create a row from a JSON object",
		Long: `Create a row. The JSON body comes from --data or standard input.

Example:
  adminctl create reasons --data '{"code":"DR","name":"Drill"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cliContextFrom(cmd.Context())
			ctx := cmd.Context()
			resource := args[0]

			body, err := readBody(cmd, data)
			if err != nil {
				return err
			}

			return cc.withClient(ctx, func(client *api.Client) error {
				res := api.NewResource[record](client, resource)
				m := mutationFor(cc, totalsLister(cc, client, resource), "created", func(ctx context.Context, in record) (record, error) {
					return res.Create(ctx, in)
				})

				out, err := m.Run(ctx, body)
				if err != nil {
					return err
				}

				return printRecord(cc, out)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", `JSON object ("-" or omitted reads standard input)`)

	return cmd
}

func newUpdateCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "update <resource> <id>",
		Short: "Update a row from a JSON object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cliContextFrom(cmd.Context())
			ctx := cmd.Context()
			resource := args[0]

			body, err := readBody(cmd, data)
			if err != nil {
				return err
			}

			return cc.withClient(ctx, func(client *api.Client) error {
				res := api.NewResource[record](client, resource)
				m := mutationFor(cc, totalsLister(cc, client, resource), "updated", func(ctx context.Context, in updateInput) (record, error) {
					return res.Update(ctx, in.id, in.body)
				})

				out, err := m.Run(ctx, updateInput{id: args[1], body: body})
				if err != nil {
					return err
				}

				return printRecord(cc, out)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", `JSON object ("-" or omitted reads standard input)`)

	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource> <id>...",
		Short: "Delete one or more rows",
		Long: `Delete rows by id, one at a time. Deletion stops at the first failure.

Example:
  adminctl delete reasons 4 9`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := cliContextFrom(cmd.Context())
			ctx := cmd.Context()
			resource := args[0]

			return cc.withClient(ctx, func(client *api.Client) error {
				res := api.NewResource[record](client, resource)
				m := mutationFor(cc, totalsLister(cc, client, resource), "deleted", func(ctx context.Context, id string) (record, error) {
					return nil, res.Delete(ctx, id)
				})

				for _, id := range args[1:] {
					if _, err := m.Run(ctx, id); err != nil {
						return fmt.Errorf("deleting %s/%s: %w", resource, id, err)
					}
				}

				return nil
			})
		},
	}
}

func printRecord(cc *CLIContext, r record) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, r)
	}

	if r == nil {
		return nil
	}

	printRecords(cc.Out, []record{r})

	return nil
}
