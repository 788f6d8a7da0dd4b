package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/persistence/worldmeta"
)

type rootOptions struct {
	savesDir string
	indexDB  string
}

func (o *rootOptions) indexPath() string {
	if o.indexDB != "" {
		return o.indexDB
	}
	return filepath.Join(o.savesDir, "index.db")
}

func (o *rootOptions) manager() (*worldmeta.Manager, error) {
	store, err := worldmeta.OpenStore(o.savesDir)
	if err != nil {
		return nil, err
	}
	m := worldmeta.NewManager(store, nil, nil)
	m.LoadWorlds()
	return m, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "worlds",
		Short:         "Manage voxel world saves",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.savesDir, "saves", "./saves", "saves directory")
	root.PersistentFlags().StringVar(&opts.indexDB, "index", "", "index database (default: <saves>/index.db)")

	root.AddCommand(newListCmd(opts), newCreateCmd(opts), newDeleteCmd(opts), newHistoryCmd(opts))
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List worlds, most recently played first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			worlds := m.Worlds()
			sort.SliceStable(worlds, func(i, j int) bool { return worlds[i].LastPlayed.After(worlds[j].LastPlayed) })
			if len(worlds) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no worlds")
				return nil
			}
			rows := make([][]string, 0, len(worlds))
			for _, w := range worlds {
				size := "?"
				if n, err := m.Store().Size(w.Name); err == nil {
					size = humanize.Bytes(uint64(n))
				}
				rows = append(rows, []string{
					w.Name,
					string(w.GameMode),
					string(w.WorldType),
					strconv.FormatUint(uint64(w.Seed), 10),
					size,
					humanize.Time(w.LastPlayed),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"Name", "Mode", "Type", "Seed", "Size", "Last Played"}, rows)
			return nil
		},
	}
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		seed      uint32
		mode      string
		worldType string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager()
			if err != nil {
				return err
			}
			info, err := m.CreateWorld(worldmeta.Info{
				Name:      args[0],
				Seed:      seed,
				GameMode:  worldmeta.GameMode(mode),
				WorldType: worldmeta.WorldType(worldType),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (seed %d, %s, %s)\n", info.Name, info.Seed, info.GameMode, info.WorldType)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&seed, "seed", 0, "world seed (0 means the default seed)")
	cmd.Flags().StringVar(&mode, "mode", string(worldmeta.GameModeCreative), "game mode: survival, creative, adventure, spectator")
	cmd.Flags().StringVar(&worldType, "type", string(worldmeta.WorldTypeDefault), "world type: default, flat, large_biomes, amplified")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a world and all of its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			m, err := opts.manager()
			if err != nil {
				return err
			}
			if err := m.DeleteWorld(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		world string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent save results from the index database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := indexdb.OpenSQLite(opts.indexPath())
			if err != nil {
				return err
			}
			defer idx.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			saves, err := idx.RecentSaves(ctx, world, limit)
			if err != nil {
				return err
			}
			if len(saves) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no saves recorded")
				return nil
			}
			rows := make([][]string, 0, len(saves))
			for _, s := range saves {
				result := "ok"
				if !s.OK {
					result = s.Kind
					if s.Error != "" {
						result += ": " + s.Error
					}
				}
				rows = append(rows, []string{
					s.RecordedAt.Local().Format(time.DateTime),
					s.WorldID,
					s.JobID,
					result,
					humanize.Bytes(uint64(s.Bytes)),
					(time.Duration(s.DurationMS) * time.Millisecond).String(),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"Time", "World", "Job", "Result", "Bytes", "Took"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&world, "world", "", "only show saves of this world")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
