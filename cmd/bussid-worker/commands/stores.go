package commands

import (
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"bussid/internal/config"
	"bussid/internal/domain"
	"bussid/internal/interface/repository/cache"
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Inspect cache stores on disk",
	Long: `Inspect the cache stores of the configured storage backend.

The badger backend holds an exclusive lock, so stop the server before
running these commands against the same directory.`,
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache stores",
	Args:  cobra.NoArgs,
	RunE:  runStoresList,
}

var storesDeleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Delete cache stores",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStoresDelete,
}

func init() {
	storesCmd.PersistentFlags().String("storage", "", "Storage backend (badger, file)")
	storesCmd.PersistentFlags().String("cache-dir", "", "Cache directory")
	storesCmd.PersistentFlags().String("generation", "", "Generation treated as current (default: the built-in generation)")

	storesCmd.AddCommand(storesListCmd)
	storesCmd.AddCommand(storesDeleteCmd)
}

func runStoresList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOffline(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	storage, closeFn, err := cache.New(cfg.Storage.Backend, cfg.Storage.Dir)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	names, err := storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stores: %w", err)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Name", "Generation", "Current", "Entries"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, name := range names {
		gen := "-"
		current := false
		if g, ok := domain.GenerationFromCacheName(name); ok {
			gen = g.String()
			current = g.String() == cfg.Worker.Generation
		}

		// 同じプロセス内では削除と競合しないため, 既存ストアを開いて数える
		entries := "-"
		if store, err := storage.Open(ctx, name); err == nil {
			if keys, err := store.Keys(ctx); err == nil {
				entries = fmt.Sprint(len(keys))
			}
		}
		table.Append([]string{name, gen, fmt.Sprint(current), entries})
	}
	table.Render()
	return nil
}

func runStoresDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOffline(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	storage, closeFn, err := cache.New(cfg.Storage.Backend, cfg.Storage.Dir)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, name := range args {
		deleted, err := storage.Delete(cmd.Context(), name)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
		if !deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", name)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted\n", name)
	}
	return nil
}
