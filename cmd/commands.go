package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quiby-ai/review-search/internal/consumer"
	"github.com/quiby-ai/review-search/internal/corpus"
	"github.com/quiby-ai/review-search/internal/producer"
	"github.com/quiby-ai/review-search/internal/server"
	"github.com/quiby-ai/review-search/internal/service"
	"github.com/quiby-ai/review-search/internal/storage"
)

func newDownloadCmd() *cobra.Command {
	var langs []string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the per-language review files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if len(langs) == 0 {
				langs = cfg.Dataset.Languages
			}

			d := corpus.NewDownloader(corpus.DownloadConfig{
				HubURL:         cfg.Dataset.HubURL,
				Token:          cfg.Dataset.HFToken,
				Dir:            cfg.Dataset.Dir,
				MirrorRepo:     cfg.Dataset.MirrorRepo,
				FallbackRepo:   cfg.Dataset.FallbackRepo,
				FallbackConfig: cfg.Dataset.FallbackConfig,
				Split:          cfg.Dataset.Split,
				Timeout:        cfg.Dataset.Timeout,
			}, logger)

			counts, err := d.Download(cmd.Context(), langs)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			for _, lang := range langs {
				green.Fprintf(cmd.OutOrStdout(), "✓ %s", lang)
				fmt.Fprintf(cmd.OutOrStdout(), "  %d rows\n", counts[lang])
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&langs, "lang", "l", nil, "Languages to download (default: all configured)")

	return cmd
}

func newReduceCmd() *cobra.Command {
	var langs []string

	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Write star-stratified samples of the downloaded files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			results, err := service.NewReduceService(cfg, logger).Run(cmd.Context(), langs)
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			for _, r := range results {
				green.Fprintf(cmd.OutOrStdout(), "✓ %s", r.Language)
				fmt.Fprintf(cmd.OutOrStdout(), "  %d → %d rows  %s\n", r.Input, r.Output, r.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&langs, "lang", "l", nil, "Languages to reduce (default: all configured)")

	return cmd
}

func newIngestCmd() *cobra.Command {
	var (
		langs     []string
		noSamples bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed review files and store them in per-language shards",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			repo, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			svc := service.NewIngestService(repo, service.NewEmbedder(cfg, logger), cfg, logger, nil)
			result, err := svc.RunOnce(cmd.Context(), service.IngestRequest{
				Languages:  langs,
				UseSamples: cfg.Ingest.UseSamples && !noSamples,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, lang := range sortedKeys(result.PerLanguage) {
				fmt.Fprintf(out, "%s  %d points\n", lang, result.PerLanguage[lang])
			}
			fmt.Fprintf(out, "processed=%d skipped=%d failed=%d\n", result.Processed, result.Skipped, result.Failed)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&langs, "lang", "l", nil, "Languages to ingest (default: all configured)")
	cmd.Flags().BoolVar(&noSamples, "no-samples", false, "Ingest the full files even when samples exist")

	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		langs []string
		stars []int
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search reviews across language shards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			repo, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			svc := service.NewSearchService(repo, service.NewEmbedder(cfg, logger), cfg, logger)
			result, err := svc.Search(cmd.Context(), service.SearchRequest{
				Query:     strings.Join(args, " "),
				Languages: langs,
				Stars:     stars,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&langs, "lang", "l", nil, "Languages to search (default: all configured)")
	cmd.Flags().IntSliceVarP(&stars, "stars", "s", nil, "Only return reviews with these star ratings")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of results (default: server.max_limit)")

	return cmd
}

func printResult(w io.Writer, result service.SearchResult) {
	red := color.New(color.FgRed)
	for _, lang := range sortedKeys(result.Errors) {
		red.Fprintf(w, "shard %s failed: %s\n", lang, result.Errors[lang])
	}

	if len(result.Hits) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}

	for _, hit := range result.Hits {
		printHit(w, hit)
	}
}

func printHit(w io.Writer, hit storage.SearchHit) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintf(w, "[%s]", hit.Language)
	yellow.Fprintf(w, " ★%d", hit.Stars)
	gray.Fprintf(w, "  score=%.3f", hit.Score)
	fmt.Fprintf(w, "  %s\n", hit.Text)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API and web page",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			repo, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			svc := service.NewSearchService(repo, service.NewEmbedder(cfg, logger), cfg, logger)
			return server.New(svc, cfg, logger).Run(cmd.Context())
		},
	}
}

func newConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run ingests triggered by pipeline events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			repo, err := openRepository(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			producer := producer.NewProducer(cfg.Kafka, logger)
			defer producer.Close()

			svc := service.NewIngestService(repo, service.NewEmbedder(cfg, logger), cfg, logger, producer)

			cons := consumer.NewKafkaConsumer(cfg.Kafka, svc)
			defer cons.Close()

			if err := cons.Run(cmd.Context()); err != nil {
				logger.Error("Consumer exited with error", "error", err)
				return fmt.Errorf("consumer exited with error: %w", err)
			}
			return nil
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
