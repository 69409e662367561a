package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = ".otelrun.yaml"

// Built-in defaults match a SigNoz stack on this machine and the XCart API
// it was written for; a zero-config `otelrun up` works against those.
const (
	DefaultEndpoint      = "http://localhost:4317"
	DefaultDashboardURL  = "http://localhost:3301"
	DefaultCollectorPort = 4317
)

type File struct {
	Service  Service  `yaml:"service"`
	Stack    Stack    `yaml:"stack"`
	Probe    Probe    `yaml:"probe"`
	Shutdown Shutdown `yaml:"shutdown"`
}

type Service struct {
	Name    string            `yaml:"name"`
	Version string            `yaml:"version,omitempty"`
	Command []string          `yaml:"command"`
	Cwd     string            `yaml:"cwd,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Health  *Health           `yaml:"health,omitempty"`
}

type Health struct {
	URL     string `yaml:"url,omitempty"`
	Address string `yaml:"address,omitempty"`
}

type Stack struct {
	DashboardURL  string   `yaml:"dashboard_url,omitempty"`
	CollectorPort int      `yaml:"collector_port,omitempty"`
	Start         []string `yaml:"start,omitempty"`
	Stop          []string `yaml:"stop,omitempty"`
}

type Probe struct {
	Attempts int      `yaml:"attempts,omitempty"`
	Delay    Duration `yaml:"delay,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

type Shutdown struct {
	Grace Duration `yaml:"grace,omitempty"`
}

// Duration decodes "2s"-style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Wrap(err, "duration must be a string like \"2s\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func DefaultPath(workDir string) string {
	return filepath.Join(workDir, DefaultConfigFilename)
}

// Default returns the configuration a bare `otelrun up` runs with.
func Default() *File {
	return &File{
		Service: Service{
			Name:    "xcart",
			Version: "1.0.0",
			Command: []string{"uvicorn", "app.main:app", "--port", "8000", "--reload"},
		},
		Stack: Stack{
			DashboardURL:  DefaultDashboardURL,
			CollectorPort: DefaultCollectorPort,
			Start:         []string{"docker", "compose", "-f", "deploy/signoz/docker-compose.yaml", "up", "-d"},
			Stop:          []string{"docker", "compose", "-f", "deploy/signoz/docker-compose.yaml", "down"},
		},
		Probe: Probe{
			Attempts: 30,
			Delay:    Duration(2 * time.Second),
			Timeout:  Duration(2 * time.Second),
		},
		Shutdown: Shutdown{
			Grace: Duration(5 * time.Second),
		},
	}
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional returns defaults when no config file exists.
func LoadOptional(path string) (*File, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.normalize()
			return cfg, nil
		}
		return nil, errors.Wrap(err, "stat config")
	}
	return LoadFromFile(path)
}

func (f *File) normalize() {
	if f.Service.Version == "" {
		f.Service.Version = "dev"
	}
	if f.Stack.DashboardURL == "" {
		f.Stack.DashboardURL = DefaultDashboardURL
	}
	if f.Stack.CollectorPort == 0 {
		f.Stack.CollectorPort = DefaultCollectorPort
	}
	if f.Probe.Attempts == 0 {
		f.Probe.Attempts = 30
	}
	if f.Probe.Delay == 0 {
		f.Probe.Delay = Duration(2 * time.Second)
	}
	if f.Probe.Timeout == 0 {
		f.Probe.Timeout = Duration(2 * time.Second)
	}
	if f.Shutdown.Grace == 0 {
		f.Shutdown.Grace = Duration(5 * time.Second)
	}
}

func (f *File) Validate() error {
	if f.Service.Name == "" {
		return errors.New("service.name is required")
	}
	if len(f.Service.Command) == 0 {
		return errors.New("service.command is required")
	}
	if f.Probe.Attempts < 1 {
		return errors.New("probe.attempts must be >= 1")
	}
	if f.Probe.Delay <= 0 {
		return errors.New("probe.delay must be > 0")
	}
	if f.Probe.Timeout <= 0 {
		return errors.New("probe.timeout must be > 0")
	}
	if f.Shutdown.Grace <= 0 {
		return errors.New("shutdown.grace must be > 0")
	}
	if f.Stack.DashboardURL != "" {
		if _, err := url.Parse(f.Stack.DashboardURL); err != nil {
			return errors.Wrap(err, "stack.dashboard_url")
		}
	}
	return nil
}

// CollectorAddr is the TCP address of the local OTLP collector port.
func (f *File) CollectorAddr() string {
	return fmt.Sprintf("localhost:%d", f.Stack.CollectorPort)
}
