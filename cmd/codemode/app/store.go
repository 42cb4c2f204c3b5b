package app

import (
	"github.com/spf13/cobra"

	"github.com/codemode-ai/codemode/pkg/storesync"
)

func newStoreCmd() *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Manage tool and skill catalogs in a Redis store",
	}
	storeCmd.AddCommand(newStoreBootstrapCmd())
	storeCmd.AddCommand(newStorePullCmd())
	storeCmd.AddCommand(newStoreDiffCmd())
	storeCmd.AddCommand(newStoreListCmd())
	return storeCmd
}

func newStoreBootstrapCmd() *cobra.Command {
	var (
		source     string
		target     string
		prefix     string
		typeFilter string
		clear      bool
	)
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Push local tool and skill catalogs into a Redis store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := storesync.Bootstrap(cmd.Context(), source, target, prefix, typeFilter, clear)
			if err != nil {
				return err
			}
			cmd.Printf("bootstrapped %d tools, %d skills\n", stats.Tools, stats.Skills)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", ".", "Directory holding tools/ and skills/")
	cmd.Flags().StringVar(&target, "target", "redis://localhost:6379", "Redis URL")
	cmd.Flags().StringVar(&prefix, "prefix", "codemode", "Key prefix in the store")
	cmd.Flags().StringVar(&typeFilter, "type", "", "Restrict to one catalog type (tools|skills)")
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove existing target entries first")
	return cmd
}

func newStorePullCmd() *cobra.Command {
	var (
		target string
		prefix string
		dest   string
	)
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Copy catalogs from a Redis store into a local directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := storesync.Pull(cmd.Context(), target, prefix, dest)
			if err != nil {
				return err
			}
			cmd.Printf("pulled %d tools, %d skills\n", stats.Tools, stats.Skills)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "redis://localhost:6379", "Redis URL")
	cmd.Flags().StringVar(&prefix, "prefix", "codemode", "Key prefix in the store")
	cmd.Flags().StringVar(&dest, "dest", ".", "Destination directory")
	return cmd
}

func newStoreDiffCmd() *cobra.Command {
	var (
		source string
		target string
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare local catalogs against a Redis store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			diff, err := storesync.DiffDir(cmd.Context(), source, target, prefix)
			if err != nil {
				return err
			}
			printBucket(cmd, "added", diff.Added)
			printBucket(cmd, "modified", diff.Modified)
			printBucket(cmd, "removed", diff.Removed)
			printBucket(cmd, "unchanged", diff.Unchanged)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", ".", "Directory holding tools/ and skills/")
	cmd.Flags().StringVar(&target, "target", "redis://localhost:6379", "Redis URL")
	cmd.Flags().StringVar(&prefix, "prefix", "codemode", "Key prefix in the store")
	return cmd
}

func printBucket(cmd *cobra.Command, label string, keys []string) {
	for _, key := range keys {
		cmd.Printf("%-10s %s\n", label, key)
	}
}

func newStoreListCmd() *cobra.Command {
	var (
		target     string
		prefix     string
		typeFilter string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries in a Redis store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := storesync.List(cmd.Context(), target, prefix, typeFilter)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				cmd.Printf("%-7s %-30s %s\n", entry.Type, entry.Name, entry.Hash)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "redis://localhost:6379", "Redis URL")
	cmd.Flags().StringVar(&prefix, "prefix", "codemode", "Key prefix in the store")
	cmd.Flags().StringVar(&typeFilter, "type", "", "Restrict to one catalog type (tools|skills)")
	return cmd
}
