package config

import (
	"github.com/spf13/pflag"
)

// Flags holds command line settings. Non-empty values override the file
// and environment.
type Flags struct {
	Path          string
	CharactersDir string
	TemplatePath  string
	MetricsAddr   string
	LogLevel      string
	LogFormat     string
}

func NewFlags() *Flags {
	return &Flags{LogFormat: "text"}
}

func (f *Flags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Path, "config", f.Path, "Configuration file (YAML or JSON)")
	fs.StringVar(&f.CharactersDir, "characters", f.CharactersDir, "Directory of character records")
	fs.StringVar(&f.TemplatePath, "template", f.TemplatePath, "Prompt template file")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", f.MetricsAddr, "Address to serve Prometheus metrics on, empty to disable")
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFormat, "log-format", f.LogFormat, "Log format (text or json)")
}

// GetConfig loads the configuration and applies flag overrides.
func (f *Flags) GetConfig() (*Config, error) {
	cfg, err := Load(f.Path)
	if err != nil {
		return nil, err
	}
	if f.CharactersDir != "" {
		cfg.CharactersDir = f.CharactersDir
	}
	if f.TemplatePath != "" {
		cfg.TemplatePath = f.TemplatePath
	}
	if f.MetricsAddr != "" {
		cfg.MetricsAddr = f.MetricsAddr
	}
	return cfg, nil
}
