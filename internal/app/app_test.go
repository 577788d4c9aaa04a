package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/browser/browsertest"
	"github.com/JakeFAU/publication-harvester/internal/config"
	"github.com/JakeFAU/publication-harvester/internal/harvest"
	"github.com/JakeFAU/publication-harvester/internal/listing"
	"github.com/JakeFAU/publication-harvester/internal/persist"
	"github.com/JakeFAU/publication-harvester/internal/publication"
)

const base = "https://research.example.edu/en/publications/"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	v := config.NewViper()
	v.Set("outdir", t.TempDir())
	v.Set("base_url", base)
	v.Set("workers", 2)
	v.Set("delay", 0)
	v.Set("browser.engine", config.EngineStatic)
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func pageURL(t *testing.T, i int) string {
	t.Helper()
	u, err := listing.PageURL(base, i)
	require.NoError(t, err)
	return u
}

func TestNewRunsPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	site := browsertest.NewSite(map[string]string{
		base: "<html><body>landing</body></html>",
		pageURL(t, 0): `<html><body><ul>
			<li class="result-container"><h3 class="title"><a href="/p/one">One</a></h3></li>
			<li class="result-container"><h3 class="title"><a href="/p/two">Two</a></h3></li>
		</ul></body></html>`,
		"https://research.example.edu/p/one": `<html><body>
			<h1>Paper One</h1><span class="date">5 May 2020</span>
		</body></html>`,
	})
	site.Fail("https://research.example.edu/p/two", assert.AnError)

	a, err := New(context.Background(), cfg, zap.NewNop(), WithOpener(browsertest.NewOpener(site)))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	summary, err := a.Run(context.Background(), harvest.Options{RunID: "run-1", MaxPages: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stubs)
	assert.Equal(t, 1, summary.Details)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Records)
	assert.Len(t, summary.Artifacts, 2)

	raw, err := os.ReadFile(filepath.Join(cfg.OutDir, persist.PublicationsFile))
	require.NoError(t, err)
	var recs []publication.Record
	require.NoError(t, json.Unmarshal(raw, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "Paper One", recs[0].Title)
	require.NotNil(t, recs[0].PublishedDate)
	assert.Equal(t, "5 May 2020", *recs[0].PublishedDate)
	assert.Equal(t, "Two", recs[1].Title)
	assert.Nil(t, recs[1].PublishedDate)

	_, err = os.Stat(filepath.Join(cfg.OutDir, persist.LinksFile))
	require.NoError(t, err)
}

func TestNewWithStaticEngineAndTracing(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Tracing.Enabled = true
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Len(t, a.closers, 1, "tracer shutdown is registered")
}

func TestNewFailsOnUnwritableOutDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.OutDir = filepath.Join(blocker, "sub")

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	a := &App{logger: zap.NewNop(), closers: []func(){func() { calls++ }}}
	a.Close()
	a.Close()
	assert.Equal(t, 1, calls)
}
