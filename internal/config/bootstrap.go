package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/crossmedia/fourallportal/internal/model"
)

//go:embed bootstrap.cue
var bootstrapSchema string

// Bootstrap is the declarative list of PIM servers and their modules.
type Bootstrap struct {
	Servers []ServerSpec `yaml:"servers"`
}

// ServerSpec describes one PIM server.
type ServerSpec struct {
	Domain   string `yaml:"domain"`
	Username string `yaml:"username"`

	// Password is stored as written. A "keyring:" reference is resolved only
	// when logging in.
	Password string       `yaml:"password"`
	Customer string       `yaml:"customer,omitempty"`
	Active   *bool        `yaml:"active,omitempty"` // nil = active
	Modules  []ModuleSpec `yaml:"modules,omitempty"`
}

// ModuleSpec describes one module of a server.
type ModuleSpec struct {
	ModuleName         string `yaml:"module_name"`
	ConnectorName      string `yaml:"connector_name,omitempty"`
	MappingClass       string `yaml:"mapping_class"`
	EnableDynamicModel bool   `yaml:"enable_dynamic_model,omitempty"`
	ShellPath          string `yaml:"shell_path,omitempty"`
	Storage            int    `yaml:"storage,omitempty"`
	StoragePID         int    `yaml:"storage_pid,omitempty"`
}

// LoadBootstrap reads, validates and decodes a bootstrap file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap file: %w", err)
	}
	b, err := ParseBootstrap(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// ParseBootstrap validates YAML data against the bootstrap schema and
// decodes it.
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var b Bootstrap
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bootstrap: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func validateSchema(raw any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(bootstrapSchema, cue.Filename("bootstrap.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile bootstrap schema: %w", err)
	}

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode bootstrap: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Bootstrap"))
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid bootstrap: %w", err)
	}
	return nil
}

// validate checks what the schema cannot: unique server domains and unique
// module names per server.
func (b *Bootstrap) validate() error {
	domains := map[string]bool{}
	for i, srv := range b.Servers {
		key := strings.ToLower(srv.Domain)
		if domains[key] {
			return fmt.Errorf("servers[%d]: duplicate domain %q", i, srv.Domain)
		}
		domains[key] = true

		names := map[string]bool{}
		for j, m := range srv.Modules {
			if names[m.ModuleName] {
				return fmt.Errorf("servers[%d].modules[%d]: duplicate module_name %q", i, j, m.ModuleName)
			}
			names[m.ModuleName] = true
		}
	}
	return nil
}

// Server converts the spec to a model server without modules.
func (s ServerSpec) Server() model.Server {
	active := true
	if s.Active != nil {
		active = *s.Active
	}
	return model.Server{
		Domain:       s.Domain,
		CustomerName: s.Customer,
		Username:     s.Username,
		Password:     s.Password,
		Active:       active,
	}
}

// Module converts the spec to a model module of serverID. An empty
// connector name defaults to the module name.
func (m ModuleSpec) Module(serverID int64) model.Module {
	connector := m.ConnectorName
	if connector == "" {
		connector = m.ModuleName
	}
	return model.Module{
		ServerID:           serverID,
		ModuleName:         m.ModuleName,
		ConnectorName:      connector,
		MappingClass:       m.MappingClass,
		EnableDynamicModel: m.EnableDynamicModel,
		ShellPath:          m.ShellPath,
		StorageTarget:      m.Storage,
		StoragePID:         m.StoragePID,
	}
}
