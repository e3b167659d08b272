package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeForTest(t *testing.T, ds *Dataset) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, encodeParquet(&buf, ds))
	return buf.Bytes()
}

func TestDownloadFromMirror(t *testing.T) {
	en := encodeForTest(t, &Dataset{TextField: "text", RatingField: FieldLabel, Rows: []Row{
		{Text: "great", Rating: 4}, {Text: "bad", Rating: 0},
	}})
	de := encodeForTest(t, &Dataset{TextField: "text", RatingField: FieldLabel, Rows: []Row{
		{Text: "gut", Rating: 3},
	}})

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/datasets/mteb/amazon_reviews_multi/parquet/{config}/train", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]string{srv.URL + "/files/" + r.PathValue("config") + ".parquet"})
	})
	mux.HandleFunc("/files/en.parquet", func(w http.ResponseWriter, r *http.Request) { w.Write(en) })
	mux.HandleFunc("/files/de.parquet", func(w http.ResponseWriter, r *http.Request) { w.Write(de) })
	srv = httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(DownloadConfig{
		HubURL:     srv.URL,
		Token:      "hf_test",
		Dir:        dir,
		MirrorRepo: "mteb/amazon_reviews_multi",
	}, slog.Default())

	counts, err := d.Download(context.Background(), []string{"en", "de"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"en": 2, "de": 1}, counts)

	got, err := ReadParquet(filepath.Join(dir, "en.parquet"), "en")
	require.NoError(t, err)
	assert.Equal(t, FieldLabel, got.RatingField)
	assert.Equal(t, "great", got.Rows[0].Text)
}

func TestDownloadFallsBackOnMirrorFailure(t *testing.T) {
	all := encodeForTest(t, &Dataset{
		TextField:   "review_body",
		RatingField: FieldStars,
		Columns:     []string{"language"},
		Rows: []Row{
			{Text: "great", Rating: 5, Extra: map[string]any{"language": "en"}},
			{Text: "génial", Rating: 5, Extra: map[string]any{"language": "fr"}},
			{Text: "nul", Rating: 1, Extra: map[string]any{"language": "fr"}},
		},
	})

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/datasets/mteb/amazon_reviews_multi/parquet/{config}/train", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/api/datasets/srv/multi/parquet/default/train", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{srv.URL + "/files/all.parquet"})
	})
	mux.HandleFunc("/files/all.parquet", func(w http.ResponseWriter, r *http.Request) { w.Write(all) })
	srv = httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(DownloadConfig{
		HubURL:       srv.URL,
		Dir:          dir,
		MirrorRepo:   "mteb/amazon_reviews_multi",
		FallbackRepo: "srv/multi",
	}, slog.Default())

	counts, err := d.Download(context.Background(), []string{"en", "fr"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"en": 1, "fr": 2}, counts)

	fr, err := ReadParquet(filepath.Join(dir, "fr.parquet"), "fr")
	require.NoError(t, err)
	assert.Equal(t, "review_body", fr.TextField)
	for _, row := range fr.Rows {
		assert.Equal(t, "fr", row.Extra["language"])
	}
}
