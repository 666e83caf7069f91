package registry

import (
	_ "embed"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/enrich-cli/internal/enrichment"
)

//go:embed stages.yaml
var defaultStages []byte

// StageDef is one configured stage.
type StageDef struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Method string `yaml:"method,omitempty"`
	Result string `yaml:"result"`
}

// Dashboard is a named record list and the stages applied to it.
type Dashboard struct {
	Name             string        `yaml:"name"`
	Description      string        `yaml:"description,omitempty"`
	RecordsPath      string        `yaml:"records_path"`
	IDField          string        `yaml:"id_field"`
	TextField        string        `yaml:"text_field"`
	InterStageDelay  time.Duration `yaml:"inter_stage_delay"`
	InterRecordDelay time.Duration `yaml:"inter_record_delay"`
	Stages           []StageDef    `yaml:"stages"`
}

// Registry is an indexed collection of dashboards.
type Registry struct {
	Dashboards []Dashboard
	byName     map[string]*Dashboard
}

type document struct {
	Dashboards []Dashboard `yaml:"dashboards"`
}

// Default returns the built-in registry.
func Default() (*Registry, error) {
	return Parse(defaultStages)
}

// LoadFile reads a registry from a YAML file. An empty path selects the
// built-in registry.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read stages file")
	}
	return Parse(data)
}

// Parse decodes and validates a registry document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal stages")
	}

	r := &Registry{
		Dashboards: doc.Dashboards,
		byName:     make(map[string]*Dashboard, len(doc.Dashboards)),
	}
	for i := range r.Dashboards {
		d := &r.Dashboards[i]
		if d.IDField == "" {
			d.IDField = "id"
		}
		if d.TextField == "" {
			d.TextField = "text"
		}
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, eris.Errorf("registry: duplicate dashboard %q", d.Name)
		}
		r.byName[d.Name] = d
	}
	return r, nil
}

// ByName returns the named dashboard, or nil if not found.
func (r *Registry) ByName(name string) *Dashboard {
	return r.byName[name]
}

// Names returns dashboard names in file order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.Dashboards))
	for i, d := range r.Dashboards {
		out[i] = d.Name
	}
	return out
}

func (d *Dashboard) validate() error {
	if d.Name == "" {
		return eris.New("registry: dashboard without name")
	}
	if d.RecordsPath == "" {
		return eris.Errorf("registry: dashboard %s: missing records_path", d.Name)
	}
	if d.InterStageDelay < 0 || d.InterRecordDelay < 0 {
		return eris.Errorf("registry: dashboard %s: negative delay", d.Name)
	}
	seen := make(map[string]bool, len(d.Stages))
	for _, s := range d.Stages {
		if s.Name == "" || s.Path == "" {
			return eris.Errorf("registry: dashboard %s: stage needs name and path", d.Name)
		}
		if seen[s.Name] {
			return eris.Errorf("registry: dashboard %s: duplicate stage %q", d.Name, s.Name)
		}
		seen[s.Name] = true
		if _, err := Decoder(s.Result); err != nil {
			return eris.Wrapf(err, "registry: dashboard %s: stage %s", d.Name, s.Name)
		}
	}
	return nil
}

// StageSpecs builds the pipeline stages in configuration order.
func (d *Dashboard) StageSpecs() []enrichment.StageSpec {
	out := make([]enrichment.StageSpec, len(d.Stages))
	for i, s := range d.Stages {
		dec, _ := Decoder(s.Result) // validated by Parse
		out[i] = enrichment.StageSpec{
			Name:       s.Name,
			Path:       s.Path,
			Method:     s.Method,
			ResultType: s.Result,
			Decode:     dec,
		}
	}
	return out
}

// Options returns the pipeline pauses for the dashboard.
func (d *Dashboard) Options() enrichment.Options {
	return enrichment.Options{
		InterStageDelay:  d.InterStageDelay,
		InterRecordDelay: d.InterRecordDelay,
	}
}

// Source returns the record source for the dashboard on the given API.
func (d *Dashboard) Source(f enrichment.Fetcher, baseURL string) *enrichment.HTTPRecordSource {
	return enrichment.NewHTTPRecordSource(f, strings.TrimRight(baseURL, "/")+d.RecordsPath, d.IDField, d.TextField)
}
