package main

import (
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/delegator"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	"github.com/spf13/cobra"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "parse <query>...",
		Short:   "Show how a query string is classified",
		Example: `  searchctl parse -- deploy "blue green" -legacy tag:ops`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return printJSON(c.OutOrStdout(), parser.Parse(strings.Join(args, " ")))
		},
	}
}

func newBuildQueryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "build-query <query>...",
		Short: "Print the Elasticsearch request a query would send",
		Long:  `Print the request body for a query as seen by the given viewer, without contacting any engine.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBuildQuery,
	}
	addViewerFlags(c)
	c.Flags().Int64(flagUsers, 1, "total user count used for the bookmark boost")
	c.Flags().Bool("hide-restricted-by-owner", false, "hide owner-only pages from non-owners")
	c.Flags().Bool("hide-restricted-by-group", false, "hide group pages from non-members")
	return c
}

func runBuildQuery(c *cobra.Command, args []string) error {
	viewer, opts := viewerOptions(c)
	users, _ := c.Flags().GetInt64(flagUsers)
	var policy query.Policy
	policy.HideRestrictedByOwner, _ = c.Flags().GetBool("hide-restricted-by-owner")
	policy.HideRestrictedByGroup, _ = c.Flags().GetBool("hide-restricted-by-group")

	b := query.NewBuilder(delegator.DefaultIndexName, policy, 0)
	req := b.Build(parser.Parse(strings.Join(args, " ")), viewer, opts, users)
	return printJSON(c.OutOrStdout(), req)
}

func addViewerFlags(c *cobra.Command) {
	c.Flags().String(flagUser, "", "search as this user id (anonymous when empty)")
	c.Flags().StringSlice(flagGroups, nil, "group ids of the user")
	c.Flags().String(flagType, "", "page type: portal, public, user")
	c.Flags().Int(flagOffset, 0, "result offset")
	c.Flags().Int(flagLimit, query.DefaultLimit, "page size")
}

// viewerOptions reads the viewer and paging flags. An unknown --type filters
// nothing, as on the HTTP surface.
func viewerOptions(c *cobra.Command) (query.Viewer, query.Options) {
	var viewer query.Viewer
	var opts query.Options
	viewer.UserID, _ = c.Flags().GetString(flagUser)
	if viewer.UserID != "" {
		viewer.GroupIDs, _ = c.Flags().GetStringSlice(flagGroups)
	}
	opts.Offset, _ = c.Flags().GetInt(flagOffset)
	opts.Limit, _ = c.Flags().GetInt(flagLimit)

	t, _ := c.Flags().GetString(flagType)
	opts.Type = query.PageType(t)
	if opts.Type != query.TypeAll && !opts.Type.Known() {
		slog.Debug("ignoring unknown page type", "type", t)
	}
	return viewer, opts
}
