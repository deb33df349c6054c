package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	orchestrators "github.com/ochairo/kiln/internal/domain-orchestrators"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Restore, save, purge or list the build cache",
	}
	cmd.AddCommand(
		newCacheRestoreCommand(a),
		newCacheSaveCommand(a),
		newCachePurgeCommand(a),
		newCacheListCommand(a),
	)
	return cmd
}

func newCacheRestoreCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore the build directory and drop configured paths from it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.orchestrator(cmd.Context(), orchestratorOptions{})
			if err != nil {
				return err
			}
			if !o.Pipeline().Cache.Enabled {
				return errors.New("caching is disabled in the pipeline definition")
			}

			state, err := o.NewState("", "", true)
			if err != nil {
				return err
			}
			report, err := o.RunSelected(cmd.Context(), state,
				orchestrators.StepRestoreCache, orchestrators.StepRemoveCacheSymlink)
			if err != nil {
				return err
			}

			fmt.Fprint(a.stdout, renderReport(report))
			fmt.Fprintf(a.stdout, "cache-hit=%t\n", state.CacheHit)
			return nil
		},
	}
}

func newCacheSaveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Snapshot the build directory under the cache key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.orchestrator(cmd.Context(), orchestratorOptions{})
			if err != nil {
				return err
			}
			if !o.Pipeline().Cache.Enabled {
				return errors.New("caching is disabled in the pipeline definition")
			}

			state, err := o.NewState("", "", true)
			if err != nil {
				return err
			}
			report, err := o.RunSelected(cmd.Context(), state, orchestrators.StepSaveCache)
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, renderReport(report))
			return nil
		},
	}
}

func newCachePurgeCommand(a *app) *cobra.Command {
	var maxAge int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cache entries older than a number of minutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadPipeline(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.cacheStore(p)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("max-age") {
				maxAge = p.Cache.PurgeMaxAgeMinutes
			}
			if maxAge < 0 {
				return fmt.Errorf("--max-age must not be negative")
			}

			removed, err := store.Purge(cmd.Context(), time.Duration(maxAge)*time.Minute)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "removed %d entries older than %d minutes\n", removed, maxAge)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAge, "max-age", 0, "Age threshold in minutes (default cache.purge_max_age_minutes)")
	return cmd
}

func newCacheListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored cache entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadPipeline(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.cacheStore(p)
			if err != nil {
				return err
			}

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "no cache entries")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.stdout, "%-24s %10d bytes  %s  %s\n",
					e.Key, e.Size, e.CreatedAt.UTC().Format(time.RFC3339), e.Hash[:min(16, len(e.Hash))])
			}
			return nil
		},
	}
}
