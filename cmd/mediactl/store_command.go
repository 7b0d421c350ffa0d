package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/azin/mediacache-service/internal/downloader"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/store"
	"github.com/spf13/cobra"
)

func newStoreCommand(ctx *commandContext) *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the metadata store and cache directory",
	}
	storeCmd.AddCommand(newStoreStatsCommand(ctx))
	storeCmd.AddCommand(newStoreShowCommand(ctx))
	return storeCmd
}

// kindStats 单个类型的统计
type kindStats struct {
	Kind    model.Kind `json:"kind"`
	Entries int        `json:"entries"`
	Files   int        `json:"files"`
	Bytes   int64      `json:"bytes"`
}

func newStoreStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts and cached audio usage per kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			// 服务运行时存储文件被锁定，这里只读不加锁
			doc, err := store.ReadFile(cfg.Storage.StorePath)
			if errors.Is(err, fs.ErrNotExist) {
				doc = store.NewDocument()
			} else if err != nil {
				return err
			}

			layout := downloader.Layout{Root: cfg.Storage.CacheDir}
			counts := doc.Count()
			stats := make([]kindStats, 0, len(model.Kinds))
			for _, kind := range model.Kinds {
				s := kindStats{Kind: kind, Entries: counts[kind]}
				if kind.HasSource() {
					s.Files, s.Bytes, err = dirUsage(layout.Dir(kind))
					if err != nil {
						return err
					}
				}
				stats = append(stats, s)
			}

			if asJSON {
				return writeJSON(cmd, stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Store: %s\n", cfg.Storage.StorePath)
			fmt.Fprintf(out, "Cache: %s\n\n", cfg.Storage.CacheDir)
			fmt.Fprintf(out, "%-22s %8s %8s %12s\n", "KIND", "ENTRIES", "FILES", "BYTES")
			for _, s := range stats {
				fmt.Fprintf(out, "%-22s %8d %8d %12d\n", s.Kind, s.Entries, s.Files, s.Bytes)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newStoreShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Print a single store entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := model.ParseKind(args[0])
			if !ok {
				return fmt.Errorf("unknown kind %q", args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			doc, err := store.ReadFile(cfg.Storage.StorePath)
			if err != nil {
				return err
			}
			entry, ok := doc.Tables[kind][args[1]]
			if !ok {
				return fmt.Errorf("%s:%s is not in the store", kind, args[1])
			}
			return writeJSON(cmd, entry)
		},
	}
}

// dirUsage 目录下音频文件数与总大小，目录不存在时为 0
func dirUsage(dir string) (int, int64, error) {
	var files int
	var size int64
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !isAudio(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files++
		size += info.Size()
	}
	return files, size, nil
}

func isAudio(name string) bool {
	ext := filepath.Ext(name)
	if ext == "" {
		return false
	}
	for _, a := range downloader.AudioExts {
		if ext[1:] == a {
			return true
		}
	}
	return false
}
