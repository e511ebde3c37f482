// Package scaffold writes a starter collective.yml for a new node.
package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/template"

	"github.com/google/uuid"

	"github.com/dyluth/collective/internal/config"
)

// ConfigFile is the name of the generated configuration.
const ConfigFile = "collective.yml"

//go:embed templates/*
var templatesFS embed.FS

// Options fills the template. Empty fields take defaults.
type Options struct {
	NodeID   string // default: a fresh UUID
	Task     string
	Strategy string // default consensus-formation
	RedisURL string // default redis://localhost:6379
	Instance string // default "default"
}

func (o Options) withDefaults() Options {
	if o.NodeID == "" {
		o.NodeID = uuid.New().String()
	}
	if o.Strategy == "" {
		o.Strategy = "consensus-formation"
	}
	if o.RedisURL == "" {
		o.RedisURL = "redis://localhost:6379"
	}
	if o.Instance == "" {
		o.Instance = "default"
	}
	return o
}

// Initialize writes dir/collective.yml. An existing file is an error unless
// force is set. The written file is loaded back through config validation
// and removed again when it does not pass.
func Initialize(dir string, opts Options, force bool) (*config.CollectiveConfig, error) {
	path := filepath.Join(dir, ConfigFile)

	if force {
		if err := handleForce(path); err != nil {
			return nil, err
		}
	} else if err := CheckExisting(dir); err != nil {
		return nil, err
	}

	content, err := render(opts.withDefaults())
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("generated %s is invalid: %w", ConfigFile, err)
	}
	return cfg, nil
}

func handleForce(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	log.Printf("[Scaffold] Removing existing %s", path)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
	}
	return nil
}

func render(opts Options) ([]byte, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/collective.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s template: %w", ConfigFile, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", ConfigFile, err)
	}
	return buf.Bytes(), nil
}

// PrintSuccess prints the created file and next steps.
func PrintSuccess(w io.Writer, cfg *config.CollectiveConfig) {
	fmt.Fprintf(w, "\n✅ Successfully initialized collective node %s\n", cfg.Node.ID)
	fmt.Fprintln(w, "\nCreated:")
	fmt.Fprintf(w, "  ✓ %s\n", ConfigFile)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Add trusted peers under boundary.trust")
	fmt.Fprintf(w, "  2. Start the node:\n       COLLECTIVE_CONFIG=%s collective-node\n", ConfigFile)
	fmt.Fprintln(w, "  3. Share an insight:\n       collective post --origin <node id> --topic <topic> --content '{...}'")
}
