package config

import (
	"flag"
	"log"

	"github.com/joho/godotenv"
)

// TLSConfig holds TLS configuration options.
type TLSConfig struct {
	Enabled      bool
	CertFile     string
	KeyFile      string
	GenerateCert bool
}

// CORSConfig holds CORS configuration options for the HTTP API.
type CORSConfig struct {
	Enabled          bool
	AllowOrigins     string
	AllowMethods     string
	AllowHeaders     string
	AllowCredentials bool
	MaxAge           int
}

// Config holds the engine configuration.
type Config struct {
	Port       int
	DataDir    string
	RedisAddr  string // empty means in-process fan-out
	RosterFile string
	LogLevel   string
	TLS        TLSConfig
	CORS       CORSConfig
}

// ParseFlags parses command line flags and merges them with the config
// file. A .env file in the working directory is loaded first, if present.
func ParseFlags() (*Config, error) {
	// .env values become plain env vars; missing file is not an error.
	_ = godotenv.Load()

	configFlag := flag.String("config", "config.yml", "Path to configuration file")
	generateConfigFlag := flag.Bool("generate-config", false, "Generate a default configuration file")
	configFilePathFlag := flag.String("config-path", "config.yml", "Path where config file should be generated")

	// Simple flags for overriding config file
	portFlag := flag.Int("p", 0, "Port to listen on (overrides config)")
	dataFlag := flag.String("data", "", "Data directory for the session store (overrides config)")
	rosterFlag := flag.String("roster", "", "Roster file for the identity oracle (overrides config)")
	redisFlag := flag.String("redis", "", "Redis address for multi-node fan-out (overrides config)")

	flag.Parse()

	if *generateConfigFlag {
		log.Printf("Generating default configuration file at %s", *configFilePathFlag)
		if err := SaveDefaultConfig(*configFilePathFlag); err != nil {
			return nil, err
		}
		log.Printf("Configuration file generated successfully")
	}

	config, err := LoadConfig(*configFlag)
	if err != nil {
		log.Printf("Warning: Could not load config file: %v", err)
		log.Printf("Using default configuration")
		config, _ = LoadConfig("")
	}

	// Override with command line flags if provided
	if *portFlag != 0 {
		config.Port = *portFlag
	}
	if *dataFlag != "" {
		config.DataDir = *dataFlag
	}
	if *rosterFlag != "" {
		config.RosterFile = *rosterFlag
	}
	if *redisFlag != "" {
		config.RedisAddr = *redisFlag
	}

	return config, nil
}
