package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/tickr/internal/client"
)

func newListsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lists",
		Short: "Show all lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := app.cache()
			if err != nil {
				return err
			}
			lists, err := app.client().Lists(cmd.Context())
			if err != nil {
				if !client.IsTransient(err) {
					return err
				}
				cached, at, ok := cache.Lists()
				if !ok {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), offlineBanner(at))
				lists = cached
			} else if err := cache.PutLists(lists, time.Now()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("cache not saved: "+err.Error()))
			}

			if app.JSON {
				return writeJSON(cmd, lists)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatLists(lists, 0))
			return nil
		},
	}

	var icon string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := app.client().CreateList(cmd.Context(), strings.Join(args, " "), icon, false)
			if err != nil {
				return err
			}
			if app.JSON {
				return writeJSON(cmd, l)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s\n", activeStyle.Render(l.Name), mutedStyle.Render(fmt.Sprintf("#%d", l.ID)))
			return nil
		},
	}
	create.Flags().StringVar(&icon, "icon", "", "Icon name")
	cmd.AddCommand(create)

	return cmd
}

func newItemsCmd(app *App) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "items <list-id>",
		Short: "Show a list's items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, err := parseID("list", args[0])
			if err != nil {
				return err
			}
			cache, err := app.cache()
			if err != nil {
				return err
			}
			items, err := app.client().Items(cmd.Context(), listID, all)
			if err != nil {
				if !client.IsTransient(err) {
					return err
				}
				cached, at, ok := cache.Items(listID)
				if !ok {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), offlineBanner(at))
				items = cached
			} else if !all {
				// The cache mirrors what the watch view shows, which is active items.
				if err := cache.PutItems(listID, items, time.Now()); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("cache not saved: "+err.Error()))
				}
			}

			if app.JSON {
				return writeJSON(cmd, items)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatItems(items))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include completed items")
	return cmd
}

func newAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <list-id> <text>",
		Short: "Add an item to a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, err := parseID("list", args[0])
			if err != nil {
				return err
			}
			res, err := app.client().CreateItem(cmd.Context(), listID, strings.Join(args[1:], " "), false)
			if err != nil {
				return err
			}
			return printItemResult(cmd, app, "added", res)
		},
	}
}

// newDoneCmd builds "done" or, with completed false, "undone".
func newDoneCmd(app *App, completed bool) *cobra.Command {
	use, short, verb := "done <item-id>", "Mark an item completed", "completed"
	if !completed {
		use, short, verb = "undone <item-id>", "Mark an item active again", "reopened"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("item", args[0])
			if err != nil {
				return err
			}
			res, err := app.client().UpdateItem(cmd.Context(), id, client.ItemUpdate{Completed: &completed}, false)
			if err != nil {
				return err
			}
			return printItemResult(cmd, app, verb, res)
		},
	}
}

func newEditCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <item-id> <text>",
		Short: "Replace an item's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("item", args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			res, err := app.client().UpdateItem(cmd.Context(), id, client.ItemUpdate{Text: &text}, false)
			if err != nil {
				return err
			}
			return printItemResult(cmd, app, "edited", res)
		},
	}
}

func newRmCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <item-id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("item", args[0])
			if err != nil {
				return err
			}
			res, err := app.client().DeleteItem(cmd.Context(), id, false)
			if err != nil {
				return err
			}
			return printItemResult(cmd, app, "deleted", res)
		},
	}
}

func newHistoryCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <list-id>",
		Short: "Show a list's change history, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, err := parseID("list", args[0])
			if err != nil {
				return err
			}
			entries, err := app.client().History(cmd.Context(), listID, limit)
			if err != nil {
				return err
			}
			if app.JSON {
				return writeJSON(cmd, entries)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatHistory(entries))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Most recent entries to show")
	return cmd
}

func printItemResult(cmd *cobra.Command, app *App, verb string, res *client.ItemResult) error {
	if app.JSON {
		return writeJSON(cmd, res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n%s\n", verb, formatItem(res.Item), formatCounts(res.Counts))
	return nil
}
