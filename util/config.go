package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const Name = "vireo"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host         string
		HttpPort     int    `yaml:"httpPort"`
		SslDomain    string `yaml:"sslDomain"`
		WithJournald bool   `yaml:"withJournald"`
		WithPprof    bool   `yaml:"withPprof"`
	}
	Federation struct {
		FetchTimeoutSec       int      `yaml:"fetchTimeoutSec"`
		MaxBodyBytes          int64    `yaml:"maxBodyBytes"`
		MaxRecursionDepth     int      `yaml:"maxRecursionDepth"`
		DiscoveriesPerRequest int      `yaml:"discoveriesPerRequest"`
		DiscoveryTTLSec       int      `yaml:"discoveryTtlSec"`
		MaxCollectionPages    int      `yaml:"maxCollectionPages"`
		MaxCollectionItems    int      `yaml:"maxCollectionItems"`
		MediaRetryMinSec      int      `yaml:"mediaRetryMinSec"`
		MediaRetryMaxSec      int      `yaml:"mediaRetryMaxSec"`
		BlockedDomains        []string `yaml:"blockedDomains"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvOverrides(c)
	applyDefaults(c)

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("VIREO_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("VIREO_HTTPPORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.HttpPort = p
		}
	}
	if v := os.Getenv("VIREO_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if os.Getenv("VIREO_WITH_JOURNALD") == "true" {
		c.Conf.WithJournald = true
	}
	if os.Getenv("VIREO_WITH_PPROF") == "true" {
		c.Conf.WithPprof = true
	}
	if v := os.Getenv("VIREO_BLOCKED_DOMAINS"); v != "" {
		c.Federation.BlockedDomains = strings.Split(v, ",")
	}
}

// applyDefaults fills in zero-valued federation tunables so a sparse
// config file still yields a usable setup.
func applyDefaults(c *AppConfig) {
	f := &c.Federation
	if f.FetchTimeoutSec == 0 {
		f.FetchTimeoutSec = 10
	}
	if f.MaxBodyBytes == 0 {
		f.MaxBodyBytes = 1 * 1024 * 1024
	}
	if f.MaxRecursionDepth == 0 {
		f.MaxRecursionDepth = 4
	}
	if f.DiscoveriesPerRequest == 0 {
		f.DiscoveriesPerRequest = 1000
	}
	if f.DiscoveryTTLSec == 0 {
		f.DiscoveryTTLSec = 300
	}
	if f.MaxCollectionPages == 0 {
		f.MaxCollectionPages = 10
	}
	if f.MaxCollectionItems == 0 {
		f.MaxCollectionItems = 400
	}
	if f.MediaRetryMinSec == 0 {
		f.MediaRetryMinSec = 30
	}
	if f.MediaRetryMaxSec == 0 {
		f.MediaRetryMaxSec = 600
	}
}
