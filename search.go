package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/adminctl/internal/api"
)

func newSearchCmd() *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "search <resource> [term...]",
		Short: "Search a resource interactively",
		Long: `Show the first page of matches for each search term in turn.

Each term replaces the previous one, the way typing in a search box does:
the list starts over from page 1 and results for earlier terms are never
shown. Without terms, one term is read per line of standard input.

Example:
  adminctl search items dr dri drill`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], args[1:], &opts)
		},
	}

	opts.register(cmd)

	return cmd
}

func runSearch(cmd *cobra.Command, resource string, terms []string, opts *listOptions) error {
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
		lp := opts.params(cc.Cfg.RowsPerPage)
		l := newLister(cc, cc.newCache(), client, resource, lp, parent)

		if err := l.resolveParent(ctx); err != nil {
			return err
		}

		show := func(term string) error {
			return searchTerm(ctx, cc, l, term)
		}

		if len(terms) > 0 {
			for _, term := range terms {
				if err := show(term); err != nil {
					return err
				}
			}

			return nil
		}

		if isTerminal(cc.Err) {
			cc.Statusf("Type a search term per line; Ctrl-D ends.\n")
		}

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			if err := show(strings.TrimSpace(scanner.Text())); err != nil {
				return err
			}
		}

		return scanner.Err()
	})
}

// searchTerm switches the list to term and prints its first page.
func searchTerm(ctx context.Context, cc *CLIContext, l *lister, term string) error {
	l.lp.Search = term

	if err := l.inf.SetKey(ctx, l.key()); err != nil {
		return err
	}

	if err := l.inf.Load(ctx); err != nil {
		return err
	}

	if err := l.inf.Err(); err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, searchOutput{Term: term, Items: l.inf.Items()})
	}

	fmt.Fprintf(cc.Out, "== %q\n", term)
	printRecords(cc.Out, l.inf.Items())

	if l.inf.HasNextPage() {
		cc.Statusf("More matches; narrow the term or use 'adminctl list %s --search %q --all'.\n", l.resource, term)
	}

	return nil
}

// searchOutput is one JSON line of `search --json`.
type searchOutput struct {
	Term  string   `json:"term"`
	Items []record `json:"items"`
}
