package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/ui"
)

const sampleProducts = `
products:
  - sku: lamp-01
    name: Arc floor lamp
    description: Brushed steel arc lamp for reading corners
    brand: Lumo
    category: lighting
    colors: [black, steel]
    price: 129.5
    in_stock: true
    rating: 4
  - sku: lamp-02
    name: Desk lamp
    description: Compact LED desk lamp
    brand: Brite
    category: lighting
    colors: [white]
    price: 39
    in_stock: true
    rating: 5
  - sku: desk-01
    name: Standing desk
    description: Height adjustable oak desk
    brand: Oakline
    category: furniture
    colors: [oak]
    price: 499
    in_stock: false
    rating: 4
`

type env struct {
	dir     string
	cfgPath string
	logPath string
}

// newEnv isolates user config and environment and writes a config that
// keeps all state under a temp dir.
func newEnv(t *testing.T) *env {
	t.Helper()
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "AMANFACET_") {
			t.Setenv(name, "")
		}
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("NO_COLOR", "1")

	e := &env{
		dir:     dir,
		cfgPath: filepath.Join(dir, "amanfacet.yaml"),
		logPath: filepath.Join(dir, "logs", "amanfacet.log"),
	}
	cfg := fmt.Sprintf(`
index:
  data_dir: %s
writer:
  ledger: true
lease:
  kind: file
backup:
  store: local
  local_dir: %s
  prefix: test/
logging:
  level: info
  file: %s
`, filepath.Join(dir, "data"), filepath.Join(dir, "archives"), e.logPath)
	require.NoError(t, os.WriteFile(e.cfgPath, []byte(cfg), 0o600))
	return e
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := cmd.Execute()
	_ = a.stop()
	return buf.String(), err
}

func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, amerrors.FormatForCLI(err))
	return out
}

func (e *env) writeProducts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, fmt.Sprintf("products-%d.yaml", len(content)))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (e *env) search(t *testing.T, args ...string) ui.ResultsView {
	t.Helper()
	out := e.mustRun(t, append([]string{"search", "--json"}, args...)...)
	var v ui.ResultsView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	return v
}

func hitKeys(v ui.ResultsView) []string {
	keys := make([]string, len(v.Hits))
	for i, h := range v.Hits {
		keys[i] = h.Key
	}
	return keys
}

func TestIndexAndSearch(t *testing.T) {
	// Given: three indexed products
	e := newEnv(t)
	out := e.mustRun(t, "index", e.writeProducts(t, sampleProducts))
	assert.Contains(t, out, "indexed 3 products (generation 1)")

	// When: searching for lamps
	v := e.search(t, "lamp")

	// Then: both lamps match and facets count the matched set
	assert.Equal(t, uint64(2), v.Total)
	assert.ElementsMatch(t, []string{"lamp-01", "lamp-02"}, hitKeys(v))
	assert.Equal(t, uint64(1), v.Generation)

	var brands []string
	for _, f := range v.Facets {
		if f.Name == "brand" {
			for _, c := range f.Values {
				brands = append(brands, c.Label)
				assert.Equal(t, 1, c.Count)
			}
		}
	}
	assert.ElementsMatch(t, []string{"Lumo", "Brite"}, brands)
}

func TestSearch_FiltersAndSort(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "index", e.writeProducts(t, sampleProducts))

	v := e.search(t, "--filter", "category=lighting", "--filter", "colors=white,steel", "--sort", "price:desc")
	assert.Equal(t, []string{"lamp-01", "lamp-02"}, hitKeys(v))

	v = e.search(t, "--filter", "in_stock=false")
	assert.Equal(t, []string{"desk-01"}, hitKeys(v))

	v = e.search(t, "--sort", "price", "--size", "2", "--page", "1")
	assert.Equal(t, uint64(3), v.Total)
	assert.Equal(t, []string{"desk-01"}, hitKeys(v))
}

func TestSearch_TextOutput(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "index", e.writeProducts(t, sampleProducts))

	out := e.mustRun(t, "search", "desk", "--filter", "category=furniture")

	assert.Contains(t, out, `1 results for "desk"`)
	assert.Contains(t, out, "desk-01  Standing desk")
	assert.Contains(t, out, "brand=Oakline")
	assert.Contains(t, out, "category: furniture (1)")
}

func TestSearch_InvalidInput(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "index", e.writeProducts(t, sampleProducts))

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"malformed filter", []string{"--filter", "brand"}, amerrors.ErrCodeInvalidInput},
		{"unknown facet", []string{"--filter", "price=3"}, amerrors.ErrCodeInvalidFacet},
		{"empty values", []string{"--filter", "brand="}, amerrors.ErrCodeInvalidFacet},
		{"bad direction", []string{"--sort", "price:up"}, amerrors.ErrCodeInvalidInput},
		{"negative page", []string{"--page", "-1"}, amerrors.ErrCodeInvalidPagination},
		{"zero size", []string{"--size", "0"}, amerrors.ErrCodeInvalidPagination},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(t, append([]string{"search"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.code, amerrors.GetCode(err))
		})
	}
}

func TestIndex_StrictRejectsExistingSku(t *testing.T) {
	e := newEnv(t)
	path := e.writeProducts(t, sampleProducts)
	e.mustRun(t, "index", path)

	_, err := e.run(t, "index", "--strict", path)
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeDuplicateKey, amerrors.GetCode(err))

	// The default mode replaces in place.
	e.mustRun(t, "index", e.writeProducts(t, "- sku: lamp-02\n  name: Desk lamp v2\n  brand: Brite\n"))
	v := e.search(t, "v2")
	assert.Equal(t, []string{"lamp-02"}, hitKeys(v))
	assert.Equal(t, uint64(3), e.search(t).Total)
}

func TestIndex_EmptyFile(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun(t, "index", e.writeProducts(t, "\n"))
	assert.Contains(t, out, "no products found")
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "index", e.writeProducts(t, sampleProducts))

	out := e.mustRun(t, "delete", "lamp-01", "missing-sku")
	assert.Contains(t, out, "deleted 2 skus (generation 2)")

	v := e.search(t)
	assert.ElementsMatch(t, []string{"lamp-02", "desk-01"}, hitKeys(v))
}

func TestStatus(t *testing.T) {
	// Given: two commits
	e := newEnv(t)
	e.mustRun(t, "index", e.writeProducts(t, sampleProducts))
	e.mustRun(t, "delete", "desk-01")

	// When: asking for status as JSON
	out := e.mustRun(t, "status", "--json")
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))

	// Then: counts, facets and ledger history are reported
	assert.Equal(t, "products", info.Index)
	assert.Equal(t, uint64(2), info.Documents)
	assert.Equal(t, uint64(2), info.Generation)
	assert.Equal(t, []string{"brand", "category", "colors", "in_stock", "rating"}, info.Facets)
	assert.Equal(t, []string{"colors"}, info.MultiValued)
	assert.Equal(t, "file", info.Lease)
	assert.Greater(t, info.SizeBytes, int64(0))
	require.Len(t, info.Commits, 2)
	assert.Equal(t, uint64(2), info.Commits[0].Generation)
	assert.Equal(t, "committed", info.Commits[0].Status)
	assert.Equal(t, 1, info.Commits[0].Deletes)

	text := e.mustRun(t, "status")
	assert.Contains(t, text, "Index: products")
	assert.Contains(t, text, "Recent commits:")
}

func TestExportRestoreArchives(t *testing.T) {
	// Given: an exported catalog
	e := newEnv(t)
	e.mustRun(t, "index", e.writeProducts(t, sampleProducts))
	out := e.mustRun(t, "export", "--json")
	var manifest struct {
		Key       string `json:"key"`
		Documents int    `json:"documents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &manifest))
	assert.Equal(t, 3, manifest.Documents)
	assert.True(t, strings.HasPrefix(manifest.Key, "test/products/"))

	// When: the catalog is damaged and the newest archive restored
	e.mustRun(t, "delete", "lamp-01", "lamp-02")
	e.mustRun(t, "index", e.writeProducts(t, "- sku: desk-01\n  name: Broken desk\n"))
	out = e.mustRun(t, "restore")

	// Then: every archived product is back as it was
	assert.Contains(t, out, "restored 3 products")
	v := e.search(t, "--sort", "price")
	assert.Equal(t, []string{"lamp-02", "lamp-01", "desk-01"}, hitKeys(v))
	assert.Empty(t, e.search(t, "broken").Hits)

	// And: archives lists it and prune keeps the newest
	e.mustRun(t, "export")
	listed := e.mustRun(t, "archives")
	assert.Equal(t, 2, strings.Count(listed, "test/products/"))
	pruned := e.mustRun(t, "archives", "--prune", "1")
	assert.Contains(t, pruned, "pruned 1 archives")
	assert.NotContains(t, pruned, manifest.Key)
}

func TestRestore_NoArchives(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "restore")
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeNotFound, amerrors.GetCode(err))
}

func TestLogs(t *testing.T) {
	// Given: a command that logged to the configured file
	e := newEnv(t)
	e.mustRun(t, "index", e.writeProducts(t, sampleProducts))

	// When: viewing the log
	out := e.mustRun(t, "logs", "--filter", "catalog_indexed")

	// Then: the index event is shown
	assert.Contains(t, out, "catalog_indexed")
	assert.Contains(t, out, "[products]")

	_, err := e.run(t, "logs", "--filter", "([")
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))

	_, err = e.run(t, "logs", "--file", filepath.Join(e.dir, "nope.log"))
	assert.Equal(t, amerrors.ErrCodeNotFound, amerrors.GetCode(err))
}

func TestConfigCommands(t *testing.T) {
	e := newEnv(t)

	t.Run("show redacts secrets", func(t *testing.T) {
		t.Setenv("AMANFACET_BACKUP_SECRET_KEY", "hunter2")
		out := e.mustRun(t, "config", "show")
		assert.Contains(t, out, "local_dir:")
		assert.Contains(t, out, "********")
		assert.NotContains(t, out, "hunter2")

		out = e.mustRun(t, "config", "show", "--json")
		assert.NotContains(t, out, "hunter2")
		assert.NotContains(t, out, "secret_key")
	})

	t.Run("init upgrade backup restore", func(t *testing.T) {
		path := strings.TrimSpace(e.mustRun(t, "config", "path"))
		assert.Equal(t, filepath.Join(e.dir, "xdg", "amanfacet", "config.yaml"), path)

		assert.Contains(t, e.mustRun(t, "config", "init"), "wrote "+path)
		assert.Contains(t, e.mustRun(t, "config", "init"), "already exists")
		assert.Contains(t, e.mustRun(t, "config", "upgrade"), "up to date")

		// An old file missing newer sections gets them filled in.
		require.NoError(t, os.WriteFile(path, []byte("version: 1\nindex:\n  analyzer: en\n"), 0o600))
		out := e.mustRun(t, "config", "upgrade")
		assert.Contains(t, out, "search.max_page_size")
		assert.Contains(t, out, "Backup:")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "analyzer: en")
		assert.Contains(t, string(data), "max_page_size: 1000")

		listed := e.mustRun(t, "config", "restore")
		first := strings.Split(strings.TrimSpace(listed), "\n")[0]
		backup := strings.TrimPrefix(strings.TrimSpace(first), "- ")
		require.FileExists(t, backup)
		assert.Contains(t, e.mustRun(t, "config", "restore", backup), "restored")
		data, err = os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "version: 1\nindex:\n  analyzer: en\n", string(data))
	})

	t.Run("upgrade without user config", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		_, err := e.run(t, "config", "upgrade")
		assert.Equal(t, amerrors.ErrCodeNotFound, amerrors.GetCode(err))
	})
}

func TestInvalidConfigOnlyBlocksCommandsThatNeedIt(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(e.cfgPath, []byte("search:\n  max_page_size: -1\n"), 0o600))

	_, err := e.run(t, "search", "lamp")
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))

	out := e.mustRun(t, "version", "--short")
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestVersionCmd(t *testing.T) {
	e := newEnv(t)

	assert.Contains(t, e.mustRun(t, "version"), "amanfacet ")

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "version", "--json")), &info))
	assert.Contains(t, info, "go_version")
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"brand=Lumo, Brite", "colors=black", "brand=Oakline"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "brand", got[0].Name)
	assert.Equal(t, []string{"Lumo", "Brite", "Oakline"}, got[0].Values)
	assert.Equal(t, []string{"black"}, got[1].Values)

	_, err = parseFilters([]string{"=x"})
	assert.Error(t, err)
}

func TestParseSort(t *testing.T) {
	got, err := parseSort([]string{"price:desc", "name", "rating:ASC"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Desc)
	assert.False(t, got[1].Desc)
	assert.False(t, got[2].Desc)

	_, err = parseSort([]string{":desc"})
	assert.Error(t, err)
}
