package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/crystal-mush/voxelshare/pkg/archive"
	"github.com/crystal-mush/voxelshare/pkg/boltstore"
	"github.com/crystal-mush/voxelshare/pkg/scrollback"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "export <out.zip>",
		Short: "Write the stored (or seed) world to a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "import <world.zip>",
		Short: "Replace the stored world with the contents of a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the world held in the durable store",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "backup <out.bolt>",
		Short: "Copy the durable store to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackup,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "inspect <world.zip>",
		Short: "List the entries and header of a world archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	})

	history := &cobra.Command{
		Use:   "history",
		Short: "Print recent chat from the scrollback transcript",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	history.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of lines to print")
	rootCmd.AddCommand(history)
}

func runExport(cmd *cobra.Command, args []string) error {
	conf, err := loadConf(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(conf)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	sess, err := startSession(conf, store, nil)
	if err != nil {
		return err
	}
	defer sess.Quit(cmd.Context())

	opts := sess.Options()
	res, err := archive.Create(sess.FS(), opts.WorldFolder, opts.WorldName)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], res.Data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %q: %d files, %d bytes to %s\n", opts.WorldName, res.Header.Files, len(res.Data), args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	conf, err := loadConf(cmd)
	if err != nil {
		return err
	}
	if conf.InMemory {
		return fmt.Errorf("import needs a durable store; unset in_memory")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	store, err := openStore(conf)
	if err != nil {
		return err
	}
	defer store.Close()

	if store.HasData() {
		bak := conf.BoltPath + ".bak"
		if err := store.Backup(bak); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Previous world backed up to %s\n", bak)
	}

	sess, err := startSession(conf, store, nil)
	if err != nil {
		return err
	}
	defer sess.Quit(cmd.Context())

	n, err := sess.Import(data)
	if err != nil {
		return err
	}
	if err := sess.Save(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d files into %s\n", n, conf.BoltPath)
	return nil
}

// openStoreReadOnly opens the configured store without taking the write
// lock. It still waits for a running host to release the file.
func openStoreReadOnly(cmd *cobra.Command) (*boltstore.Store, error) {
	conf, err := loadConf(cmd)
	if err != nil {
		return nil, err
	}
	if conf.InMemory {
		return nil, fmt.Errorf("in_memory is set; there is no durable store")
	}
	return boltstore.OpenReadOnly(conf.BoltPath)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := openStoreReadOnly(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	info, ok := store.Info()
	if !ok {
		fmt.Fprintf(out, "Store:   %s\nNo world saved yet.\n", store.Path())
		return nil
	}
	fmt.Fprintf(out, "Store:   %s\nWorld:   %s\nFiles:   %d\nSaved:   %s\n",
		store.Path(), info.World, info.Files, info.SavedAt.Format(time.DateTime))
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	store, err := openStoreReadOnly(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Backup(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backed up %s to %s\n", store.Path(), args[0])
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	entries, hdr, err := archive.List(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if hdr != nil {
		fmt.Fprintf(out, "World:   %s\nClient:  %s (v%d)\nCreated: %s\nFiles:   %d (%d bytes)\n\n",
			hdr.World, hdr.Client, hdr.Version, hdr.Timestamp, hdr.Files, hdr.Bytes)
	} else {
		fmt.Fprintln(out, "No voxelshare header; archive was not written by voxelshare.")
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tSHA256")
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(tw, "%s\t-\t-\n", e.Name)
			continue
		}
		sum := e.SHA256
		if sum == "" {
			sum = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Name, e.Size, sum)
	}
	return tw.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	conf, err := loadConf(cmd)
	if err != nil {
		return err
	}
	if conf.ScrollbackDB == "" {
		return fmt.Errorf("scrollback is disabled (scrollback_db is empty)")
	}
	sb, err := scrollback.Open(conf.ScrollbackDB)
	if err != nil {
		return err
	}
	defer sb.Close()

	lines, err := sb.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", l.At.Format(time.DateTime), l.Text)
	}
	return nil
}
