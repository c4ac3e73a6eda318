package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/store"
)

func openStore() (*store.Store, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Path, cfg.Store.Capacity, logger)
}

func newResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <task-id>",
		Short: "Print a stored mission result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := openStore()
			if err != nil {
				return err
			}
			defer results.Close()

			res, err := results.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored task ids, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := openStore()
			if err != nil {
				return err
			}
			defer results.Close()

			ids, err := results.List()
			if err != nil {
				return err
			}
			for _, id := range ids {
				line := id
				if t, err := model.ParseTaskIDTime(id); err == nil {
					line = fmt.Sprintf("%s  %s", id, t.Format(time.RFC3339))
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired and unreadable stored results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := openStore()
			if err != nil {
				return err
			}
			defer results.Close()

			removed, err := results.Sweep(retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d result(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 7*24*time.Hour, "keep results newer than this")
	return cmd
}
