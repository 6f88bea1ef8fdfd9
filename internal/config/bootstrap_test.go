package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossmedia/fourallportal/internal/model"
)

func TestLoadBootstrap(t *testing.T) {
	b, err := LoadBootstrap(filepath.Join("testdata", "servers.yaml"))
	require.NoError(t, err)
	require.Len(t, b.Servers, 2)

	prod := b.Servers[0]
	assert.Equal(t, model.Server{
		Domain:       "pim.example.com",
		CustomerName: "acme",
		Username:     "sync",
		Password:     "keyring:pim-prod",
		Active:       true,
	}, prod.Server())

	require.Len(t, prod.Modules, 2)
	assert.Equal(t, model.Module{
		ServerID:      7,
		ModuleName:    "products",
		ConnectorName: "products_conn",
		MappingClass:  "entity",
		StorageTarget: 1,
		StoragePID:    42,
	}, prod.Modules[0].Module(7))

	assets := prod.Modules[1].Module(7)
	assert.Equal(t, "assets", assets.ConnectorName, "connector defaults to module name")
	assert.True(t, assets.EnableDynamicModel)
	assert.Equal(t, "/fileadmin/pim", assets.ShellPath)

	assert.False(t, b.Servers[1].Server().Active)
	assert.Empty(t, b.Servers[1].Modules)
}

func TestLoadBootstrap_MissingFile(t *testing.T) {
	_, err := LoadBootstrap(filepath.Join(t.TempDir(), "servers.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read bootstrap file")
}

func TestParseBootstrap_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "not yaml",
			yaml:    "servers: [",
			wantErr: "parse YAML",
		},
		{
			name:    "empty document",
			yaml:    "",
			wantErr: "invalid bootstrap",
		},
		{
			name:    "no servers",
			yaml:    "servers: []\n",
			wantErr: "invalid bootstrap",
		},
		{
			name:    "missing domain",
			yaml:    "servers:\n  - username: sync\n    password: x\n",
			wantErr: "invalid bootstrap",
		},
		{
			name:    "unknown server field",
			yaml:    "servers:\n  - domain: a\n    username: u\n    password: p\n    pasword: typo\n",
			wantErr: "invalid bootstrap",
		},
		{
			name:    "module without mapping class",
			yaml:    "servers:\n  - domain: a\n    username: u\n    password: p\n    modules:\n      - module_name: products\n",
			wantErr: "invalid bootstrap",
		},
		{
			name:    "module name with spaces",
			yaml:    "servers:\n  - domain: a\n    username: u\n    password: p\n    modules:\n      - module_name: my products\n        mapping_class: entity\n",
			wantErr: "invalid bootstrap",
		},
		{
			name:    "negative storage",
			yaml:    "servers:\n  - domain: a\n    username: u\n    password: p\n    modules:\n      - module_name: products\n        mapping_class: entity\n        storage: -1\n",
			wantErr: "invalid bootstrap",
		},
		{
			name:    "duplicate domain",
			yaml:    "servers:\n  - domain: a.example.com\n    username: u\n    password: p\n  - domain: A.example.com\n    username: u\n    password: p\n",
			wantErr: "duplicate domain",
		},
		{
			name:    "duplicate module",
			yaml:    "servers:\n  - domain: a\n    username: u\n    password: p\n    modules:\n      - module_name: products\n        mapping_class: entity\n      - module_name: products\n        mapping_class: entity\n",
			wantErr: "duplicate module_name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBootstrap([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
