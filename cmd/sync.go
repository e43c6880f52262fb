package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pasco78/store-api-project/internal/ingest"
	"github.com/pasco78/store-api-project/internal/upstream"
)

var (
	syncRegion       string
	syncDivID        string
	syncLimit        int
	syncStatusRegion string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull store records for a region from the open-data service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if syncRegion == "" {
			return eris.New("sync: --region is required")
		}
		var region upstream.RegionKey
		switch syncDivID {
		case "signguCd", "":
			region = upstream.ByDistrict(syncRegion)
		case "adongCd":
			region = upstream.ByDong(syncRegion)
		default:
			return eris.Errorf("sync: unknown --div %q (valid: signguCd, adongCd)", syncDivID)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sl, err := ingest.NewSyncLog(st)
		if err != nil {
			return err
		}

		client := upstream.NewClient(upstream.Options{
			BaseURL:    cfg.Upstream.BaseURL,
			ServiceKey: cfg.Upstream.ServiceKey,
			Timeout:    time.Duration(cfg.Upstream.TimeoutSecs) * time.Second,
			RatePerSec: cfg.Upstream.RatePerSec,
		})

		syncer := ingest.NewSyncer(client, st, sl, ingest.Options{
			PageSize:    cfg.Upstream.PageSize,
			MaxPages:    cfg.Ingest.MaxPages,
			Concurrency: cfg.Ingest.Concurrency,
			OnDuplicate: cfg.Ingest.OnDuplicate,
		})

		sum, err := syncer.SyncRegion(ctx, region, syncLimit)
		if err != nil {
			return err
		}

		fmt.Printf("region %s (%s): processed %d, created %d, errors %d\n",
			region.Code, region.DivID, sum.TotalProcessed, sum.Created, sum.Errors)
		return nil
	},
}

var syncCodesCmd = &cobra.Command{
	Use:   "codes",
	Short: "List known province and industry codes",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("provinces:")
		for name, code := range upstream.RegionCodes {
			fmt.Printf("  %s  %s\n", code, name)
		}
		fmt.Println("industry groups:")
		for name, code := range upstream.IndustryCodes {
			fmt.Printf("  %s  %s\n", code, name)
		}
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sl, err := ingest.NewSyncLog(st)
		if err != nil {
			return err
		}

		if syncStatusRegion != "" {
			last, err := sl.LastSuccess(ctx, syncStatusRegion)
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Printf("region %s has no completed sync\n", syncStatusRegion)
			} else {
				fmt.Printf("region %s last completed %s: total=%d created=%d errors=%d\n",
					syncStatusRegion, last.CompletedAt.Format(time.RFC3339),
					last.Total, last.Created, last.Errors)
			}
		}

		runs, err := sl.Recent(ctx, 20)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no sync runs recorded")
			return nil
		}

		for _, r := range runs {
			line := fmt.Sprintf("%s  %-9s  %s/%s  total=%d created=%d errors=%d",
				r.StartedAt.Format(time.RFC3339), r.Status, r.DivID, r.Region,
				r.Total, r.Created, r.Errors)
			if r.Error != nil {
				line += "  " + *r.Error
			}
			fmt.Println(line)
		}

		total, err := st.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("stores in database: %d\n", total)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncRegion, "region", "", "district or dong code to sync")
	syncCmd.Flags().StringVar(&syncDivID, "div", "signguCd", "region code type: signguCd or adongCd")
	syncCmd.Flags().IntVar(&syncLimit, "limit", 0, "stop after this many records (0 = all)")
	syncStatusCmd.Flags().StringVar(&syncStatusRegion, "region", "", "also show the region's last completed run")
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncCodesCmd)
	rootCmd.AddCommand(syncCmd)
}
