package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	imageuploader "github.com/Skryldev/image-uploader"
	"github.com/Skryldev/image-uploader/core"
)

func (a *app) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show provider health and the current upload order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			up, err := a.open(ctx, imageuploader.Deps{})
			if err != nil {
				return err
			}
			defer up.Close()

			records, err := up.Health().Snapshot(ctx)
			if err != nil {
				return err
			}
			order, err := up.Health().Rank(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tACTIVE\tTOTAL\tOK\tRATE\tLAST MS\tCHECKED\tLAST ERROR")
			for _, r := range records {
				checked := "-"
				if !r.LastCheckedAt.IsZero() {
					checked = r.LastCheckedAt.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%t\t%d\t%d\t%.1f%%\t%d\t%s\t%s\n",
					r.ServiceName, r.IsActive, r.TotalUploads, r.SuccessfulUploads,
					r.SuccessRate, r.LastResponseTimeMs, checked, r.LastErrorMessage)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "\norder: %v\n", order)
			return nil
		},
	}
}

func (a *app) newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List or soft-delete stored image records",
	}

	var filter core.RecordFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List active records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			up, err := a.open(ctx, imageuploader.Deps{})
			if err != nil {
				return err
			}
			defer up.Close()

			recs, err := up.Records().Query(ctx, filter)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tSERVICE\tSIZE\tFILENAME\tURL")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%s\t%s\n",
					r.ID, r.Category, r.UploadService, r.Width, r.Height, r.Filename, r.URL)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&filter.Category, "category", "", "only this category")
	list.Flags().StringVar(&filter.Service, "service", "", "only records hosted by this provider")
	list.Flags().StringVar(&filter.Search, "search", "", "filename substring")
	list.Flags().IntVar(&filter.Limit, "limit", 50, "page size")
	list.Flags().IntVar(&filter.Offset, "offset", 0, "page offset")

	del := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Soft-delete records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			up, err := a.open(ctx, imageuploader.Deps{})
			if err != nil {
				return err
			}
			defer up.Close()
			for _, id := range args {
				if _, err := up.Records().SoftDelete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, "deleted", id)
			}
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
