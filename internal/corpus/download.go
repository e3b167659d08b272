package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
)

type DownloadConfig struct {
	HubURL         string
	Token          string
	Dir            string
	MirrorRepo     string
	FallbackRepo   string
	FallbackConfig string
	Split          string
	Timeout        time.Duration
}

// Downloader fetches the per-language review files from the HuggingFace Hub
// parquet export and stores them as {dir}/{lang}.parquet.
type Downloader struct {
	cfg        DownloadConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDownloader(cfg DownloadConfig, logger *slog.Logger) *Downloader {
	if cfg.HubURL == "" {
		cfg.HubURL = "https://huggingface.co"
	}
	if cfg.Split == "" {
		cfg.Split = "train"
	}
	if cfg.FallbackConfig == "" {
		cfg.FallbackConfig = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}

	return &Downloader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Download tries the mirror repository first and switches to the
// multilingual fallback repository on any mirror failure.
func (d *Downloader) Download(ctx context.Context, langs []string) (map[string]int, error) {
	if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	d.logger.Info("Downloading from mirror", "repo", d.cfg.MirrorRepo, "languages", langs)
	counts, err := d.fromMirror(ctx, langs)
	if err == nil {
		d.logger.Info("Mirror download completed", "counts", counts)
		return counts, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	d.logger.Warn("Mirror download failed, trying fallback", "error", err, "repo", d.cfg.FallbackRepo)
	counts, err = d.fromFallback(ctx, langs)
	if err != nil {
		return nil, fmt.Errorf("fallback download failed: %w", err)
	}

	d.logger.Info("Fallback download completed", "counts", counts)
	return counts, nil
}

func (d *Downloader) fromMirror(ctx context.Context, langs []string) (map[string]int, error) {
	counts := make(map[string]int, len(langs))
	for _, lang := range langs {
		ds, err := d.fetchDataset(ctx, d.cfg.MirrorRepo, lang, lang)
		if err != nil {
			return nil, fmt.Errorf("language %s: %w", lang, err)
		}
		if err := d.save(ds, lang); err != nil {
			return nil, err
		}
		counts[lang] = ds.Len()
	}
	return counts, nil
}

func (d *Downloader) fromFallback(ctx context.Context, langs []string) (map[string]int, error) {
	all, err := d.fetchDataset(ctx, d.cfg.FallbackRepo, d.cfg.FallbackConfig, "")
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(langs))
	for _, lang := range langs {
		ds := Filter(all, func(r Row) bool { return r.Extra["language"] == lang })
		ds.Language = lang
		if err := d.save(ds, lang); err != nil {
			return nil, err
		}
		counts[lang] = ds.Len()
	}
	return counts, nil
}

func (d *Downloader) save(ds *Dataset, lang string) error {
	path := filepath.Join(d.cfg.Dir, lang+".parquet")
	if err := WriteParquet(path, ds); err != nil {
		return err
	}
	d.logger.Info("Saved language file", "language", lang, "path", path, "rows", ds.Len())
	return nil
}

func (d *Downloader) fetchDataset(ctx context.Context, repo, config, lang string) (*Dataset, error) {
	urls, err := d.listParquetFiles(ctx, repo, config)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no parquet files for %s/%s/%s", repo, config, d.cfg.Split)
	}

	var parts []*Dataset
	for _, u := range urls {
		body, err := d.get(ctx, u)
		if err != nil {
			return nil, err
		}
		r, err := NewParquetReader(buffer.NewBufferFileFromBytesNoAlloc(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", u, err)
		}
		ds, err := readAll(r, lang)
		r.pr.ReadStop()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", u, err)
		}
		parts = append(parts, ds)
	}

	return Concat(parts[0], parts[1:]...)
}

func (d *Downloader) listParquetFiles(ctx context.Context, repo, config string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/datasets/%s/parquet/%s/%s",
		d.cfg.HubURL, repo, url.PathEscape(config), url.PathEscape(d.cfg.Split))

	body, err := d.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var urls []string
	if err := json.Unmarshal(body, &urls); err != nil {
		return nil, fmt.Errorf("failed to decode parquet file list: %w", err)
	}
	return urls, nil
}

func (d *Downloader) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %d: %s", u, resp.StatusCode, string(body))
	}
	return body, nil
}
