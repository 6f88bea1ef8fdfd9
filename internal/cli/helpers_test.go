package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/crossmedia/fourallportal/internal/store"
	"github.com/crossmedia/fourallportal/internal/testutil"
)

// cliEnv is a temp directory with a settings file, a bootstrap file for a
// fake PIM serving the "products" module, and a database path.
type cliEnv struct {
	dir       string
	settings  string
	bootstrap string
	db        string
	pim       *testutil.FakePIM
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	color.NoColor = true

	dir := t.TempDir()
	e := &cliEnv{
		dir:       dir,
		settings:  filepath.Join(dir, "fourallportal.yaml"),
		bootstrap: filepath.Join(dir, "servers.yaml"),
		db:        filepath.Join(dir, "fourallportal.db"),
		pim:       testutil.NewFakePIM(t, "sync", "secret"),
	}
	e.pim.AddModule(testutil.FakeModule{ModuleName: "products", ConnectorName: "products_conn", ObjectType: "product"})

	settings := fmt.Sprintf(`database:
  path: %q
bootstrap:
  file: %q
remote:
  rate_limit: -1
  keyring_service: fourallportal-test
`, e.db, e.bootstrap)
	require.NoError(t, os.WriteFile(e.settings, []byte(settings), 0o644))

	e.writeBootstrap(t, "secret")
	return e
}

func (e *cliEnv) writeBootstrap(t *testing.T, password string) {
	t.Helper()
	e.writeBootstrapClass(t, password, "entity")
}

// writeBootstrapClass writes the bootstrap file with the products module
// mapped by class.
func (e *cliEnv) writeBootstrapClass(t *testing.T, password, class string) {
	t.Helper()
	data := fmt.Sprintf(`servers:
  - domain: %q
    username: sync
    password: %q
    modules:
      - module_name: products
        connector_name: products_conn
        mapping_class: %q
`, e.pim.URL(), password, class)
	require.NoError(t, os.WriteFile(e.bootstrap, []byte(data), 0o644))
}

// appendSettings adds raw YAML to the settings file.
func (e *cliEnv) appendSettings(t *testing.T, yaml string) {
	t.Helper()
	f, err := os.OpenFile(e.settings, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(yaml)
	require.NoError(t, err)
}

// run executes the CLI against the environment's settings file.
func (e *cliEnv) run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	return e.runWith(t, &RootOptions{}, args...)
}

func (e *cliEnv) runWith(t *testing.T, opts *RootOptions, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = execute(opts, append([]string{"--config", e.settings}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

// initialize registers the bootstrap servers and fails the test otherwise.
func (e *cliEnv) initialize(t *testing.T) {
	t.Helper()
	code, _, stderr := e.run(t, "initialize", "true")
	require.Equal(t, ExitSuccess, code, stderr)
}

// openStore opens the environment's database directly.
func (e *cliEnv) openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(e.db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func (e *cliEnv) counts(t *testing.T) map[string]int {
	t.Helper()
	s := e.openStore(t)
	counts, err := s.CountByStatus(context.Background())
	require.NoError(t, err)
	out := map[string]int{}
	for st, n := range counts {
		out[string(st)] = n
	}
	return out
}

// decodeData decodes the data of a successful JSON response into v.
func decodeData(t *testing.T, stdout string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}
