package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/lockpass/internal/core"
	"github.com/spf13/cobra"
)

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the vault file to reclaim unused space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := fileSize(vault.Path())
			if err != nil {
				return err
			}
			if err := vault.Compact(); err != nil {
				return err
			}
			after, err := fileSize(vault.Path())
			if err != nil {
				return err
			}
			fmt.Printf("Compacted: %s -> %s\n", formatSize(before), formatSize(after))
			return nil
		},
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, core.ErrNotInitialized
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
