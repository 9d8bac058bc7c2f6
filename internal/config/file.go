package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the structure of the configuration file.
type FileConfig struct {
	Server struct {
		Port     int    `yaml:"port"`
		DataDir  string `yaml:"data_dir"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	Roster struct {
		File string `yaml:"file"`
	} `yaml:"roster"`

	TLS struct {
		Enabled      bool   `yaml:"enabled"`
		CertFile     string `yaml:"cert_file"`
		KeyFile      string `yaml:"key_file"`
		GenerateCert bool   `yaml:"generate_cert"`
	} `yaml:"tls"`

	CORS struct {
		Enabled          bool   `yaml:"enabled"`
		AllowOrigins     string `yaml:"allow_origins"`
		AllowMethods     string `yaml:"allow_methods"`
		AllowHeaders     string `yaml:"allow_headers"`
		AllowCredentials bool   `yaml:"allow_credentials"`
		MaxAge           int    `yaml:"max_age"`
	} `yaml:"cors"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(filePath string) (*Config, error) {
	// Create default config
	config := &Config{
		Port:       8080,
		DataDir:    "data",
		RosterFile: "roster.yml",
		LogLevel:   "info",
		TLS: TLSConfig{
			Enabled:      false,
			CertFile:     "cert/cert.pem",
			KeyFile:      "cert/key.pem",
			GenerateCert: false,
		},
		CORS: CORSConfig{
			Enabled:          false,
			AllowOrigins:     "*",
			AllowMethods:     "GET, POST, OPTIONS",
			AllowHeaders:     "Content-Type, Authorization",
			AllowCredentials: false,
			MaxAge:           86400,
		},
	}

	// If no config file specified, return default config
	if filePath == "" {
		return config, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Update config with values from file
	if fileConfig.Server.Port != 0 {
		config.Port = fileConfig.Server.Port
	}
	if fileConfig.Server.DataDir != "" {
		config.DataDir = fileConfig.Server.DataDir
	}
	if fileConfig.Server.LogLevel != "" {
		config.LogLevel = fileConfig.Server.LogLevel
	}
	if fileConfig.Redis.Addr != "" {
		config.RedisAddr = fileConfig.Redis.Addr
	}
	if fileConfig.Roster.File != "" {
		config.RosterFile = fileConfig.Roster.File
	}

	// TLS settings
	config.TLS.Enabled = fileConfig.TLS.Enabled
	if fileConfig.TLS.CertFile != "" {
		config.TLS.CertFile = fileConfig.TLS.CertFile
	}
	if fileConfig.TLS.KeyFile != "" {
		config.TLS.KeyFile = fileConfig.TLS.KeyFile
	}
	config.TLS.GenerateCert = fileConfig.TLS.GenerateCert

	// CORS settings
	config.CORS.Enabled = fileConfig.CORS.Enabled
	if fileConfig.CORS.AllowOrigins != "" {
		config.CORS.AllowOrigins = fileConfig.CORS.AllowOrigins
	}
	if fileConfig.CORS.AllowMethods != "" {
		config.CORS.AllowMethods = fileConfig.CORS.AllowMethods
	}
	if fileConfig.CORS.AllowHeaders != "" {
		config.CORS.AllowHeaders = fileConfig.CORS.AllowHeaders
	}
	config.CORS.AllowCredentials = fileConfig.CORS.AllowCredentials
	if fileConfig.CORS.MaxAge != 0 {
		config.CORS.MaxAge = fileConfig.CORS.MaxAge
	}

	return config, nil
}

// SaveDefaultConfig saves a default configuration file.
func SaveDefaultConfig(filePath string) error {
	var fileConfig FileConfig

	fileConfig.Server.Port = 8080
	fileConfig.Server.DataDir = "data"
	fileConfig.Server.LogLevel = "info"

	fileConfig.Redis.Addr = ""
	fileConfig.Roster.File = "roster.yml"

	fileConfig.TLS.Enabled = false
	fileConfig.TLS.CertFile = "cert/cert.pem"
	fileConfig.TLS.KeyFile = "cert/key.pem"
	fileConfig.TLS.GenerateCert = false

	fileConfig.CORS.Enabled = false
	fileConfig.CORS.AllowOrigins = "*"
	fileConfig.CORS.AllowMethods = "GET, POST, OPTIONS"
	fileConfig.CORS.AllowHeaders = "Content-Type, Authorization"
	fileConfig.CORS.AllowCredentials = false
	fileConfig.CORS.MaxAge = 86400

	data, err := yaml.Marshal(fileConfig)
	if err != nil {
		return fmt.Errorf("error creating default config: %w", err)
	}

	yamlWithComments := "# collabd configuration\n" +
		"# Settings for the collaborative code-editing session engine\n\n" +
		string(data)

	if err := os.WriteFile(filePath, []byte(yamlWithComments), 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
