package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/seedr-go/internal/seedr"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [folder-id]",
		Short: "List files and folders (root when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <magnet-link>",
		Short: "Add a magnet link to your Seedr account",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}

	cmd.Flags().String("folder", "", "destination folder id (default: root)")

	return cmd
}

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <item-id>",
		Short: "Print a download link for a file or a zip link for a folder",
		Long: `Print a download link for an item. Links are pre-authenticated:
anyone holding one can download the item, so treat them like passwords.`,
		Args: cobra.ExactArgs(1),
		RunE: runLink,
	}

	cmd.Flags().String("folder", "", "folder containing the item (default: root)")

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <item-id>...",
		Short: "Delete files or folders by id",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRm,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	folderID := ""
	if len(args) > 0 {
		folderID = args[0]
	}

	ctx := cmd.Context()

	return withApp(ctx, func(app *App) error {
		app.Logger.Debug("ls", "folder_id", folderID)

		listing, err := app.Manager.ListContents(ctx, flagUser, folderID)
		if err != nil {
			return fmt.Errorf("listing folder: %w", err)
		}

		if flagJSON {
			return printJSON(os.Stdout, listingJSON(listing))
		}

		printListing(os.Stdout, listing, time.Now())

		return nil
	})
}

// lsJSONItem is the JSON output schema for a single item in ls output.
// Links are left out: they are bearer URLs.
type lsJSONItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

type lsJSONOutput struct {
	FolderID  string       `json:"folder_id"`
	SpaceUsed int64        `json:"space_used"`
	SpaceMax  int64        `json:"space_max"`
	Items     []lsJSONItem `json:"items"`
}

func listingJSON(l *seedr.Listing) lsJSONOutput {
	out := lsJSONOutput{
		FolderID:  l.FolderID,
		SpaceUsed: l.SpaceUsed,
		SpaceMax:  l.SpaceMax,
		Items:     make([]lsJSONItem, 0, len(l.Folders)+len(l.Files)),
	}

	for _, it := range sortedItems(l) {
		item := lsJSONItem{ID: it.ID, Name: it.Name, Kind: it.Kind.String(), Size: it.Size}
		if !it.UpdatedAt.IsZero() {
			item.ModifiedAt = it.UpdatedAt.UTC().Format(time.RFC3339)
		}

		out.Items = append(out.Items, item)
	}

	return out
}

// sortedItems returns folders first, then files, each alphabetical.
func sortedItems(l *seedr.Listing) []seedr.RemoteItem {
	items := l.Items()

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsFolder() != items[j].IsFolder() {
			return items[i].IsFolder()
		}

		return items[i].Name < items[j].Name
	})

	return items
}

func printListing(w io.Writer, l *seedr.Listing, now time.Time) {
	items := sortedItems(l)

	headers := []string{"ID", "NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		name := items[i].Name
		size := formatSize(items[i].Size)

		if items[i].IsFolder() {
			name += "/"
		}

		modified := ""
		if !items[i].UpdatedAt.IsZero() {
			modified = formatTime(items[i].UpdatedAt, now)
		}

		rows = append(rows, []string{items[i].ID, name, size, modified})
	}

	printTable(w, headers, rows)

	if l.SpaceMax > 0 {
		fmt.Fprintf(w, "\nUsed %s of %s\n", formatSize(l.SpaceUsed), formatSize(l.SpaceMax))
	}
}

// addJSONOutput is the JSON output schema for the add command.
type addJSONOutput struct {
	Title         string `json:"title"`
	TorrentHash   string `json:"torrent_hash,omitempty"`
	UserTorrentID string `json:"user_torrent_id,omitempty"`
}

func runAdd(cmd *cobra.Command, args []string) error {
	folderID, err := cmd.Flags().GetString("folder")
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withApp(ctx, func(app *App) error {
		res, err := app.Manager.AddMagnet(ctx, flagUser, args[0], folderID)
		if err != nil {
			return fmt.Errorf("adding magnet: %w", err)
		}

		if flagJSON {
			return printJSON(os.Stdout, addJSONOutput{
				Title:         res.Title,
				TorrentHash:   res.TorrentHash,
				UserTorrentID: res.UserTorrentID,
			})
		}

		title := res.Title
		if title == "" {
			title = "magnet"
		}

		statusf(flagQuiet, "Added %s\n", title)

		return nil
	})
}

func runLink(cmd *cobra.Command, args []string) error {
	folderID, err := cmd.Flags().GetString("folder")
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withApp(ctx, func(app *App) error {
		link, err := app.Manager.ResolveDownloadLink(ctx, flagUser, args[0], folderID)
		if err != nil {
			return fmt.Errorf("resolving link for %s: %w", args[0], err)
		}

		// The link goes to stdout only, never to the log.
		fmt.Println(link)

		return nil
	})
}

// rmJSONOutput is the JSON output schema for the rm command.
type rmJSONOutput struct {
	Deleted []string `json:"deleted"`
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return withApp(ctx, func(app *App) error {
		if err := app.Manager.DeleteItems(ctx, flagUser, args...); err != nil {
			return fmt.Errorf("deleting: %w", err)
		}

		if flagJSON {
			return printJSON(os.Stdout, rmJSONOutput{Deleted: args})
		}

		statusf(flagQuiet, "Deleted %d item(s)\n", len(args))

		return nil
	})
}
