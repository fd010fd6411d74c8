package configuration

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// LocalConfigName is read after the main file and overrides its values.
const LocalConfigName = "settings.local.cfg"

// Config verwaltet die Anwendungskonfiguration
type Config struct {
	settings map[string]map[string]string
	filePath string
	mu       sync.RWMutex
}

var (
	globalConfig *Config
	once         sync.Once
)

// sectionOrder fixes the order of sections in a generated file.
var sectionOrder = []string{"Server", "Forth", "Network", "Security", "JWT", "Database", "TLS", "Debug"}

// Initialize initialisiert die globale Konfiguration
func Initialize(configPath string) error {
	var err error
	once.Do(func() {
		globalConfig, err = Load(configPath)
	})
	return err
}

// Load reads filePath, writing a default file first when it does not exist,
// and applies settings.local.cfg from the same directory if present.
func Load(filePath string) (*Config, error) {
	config := &Config{
		settings: make(map[string]map[string]string),
		filePath: filePath,
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		config.createDefaultConfig()
		if err := config.saveToFile(); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	} else if err := config.mergeFile(filePath); err != nil {
		return nil, err
	}

	localPath := filepath.Join(filepath.Dir(filePath), LocalConfigName)
	if _, err := os.Stat(localPath); err == nil {
		if err := config.mergeFile(localPath); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func (c *Config) mergeFile(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "open %s", filePath)
	}
	defer file.Close()
	return errors.Wrapf(c.merge(file), "parse %s", filePath)
}

// merge liest INI-Zeilen; spätere Werte überschreiben frühere
func (c *Config) merge(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scanner := bufio.NewScanner(r)
	currentSection := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Überspringe leere Zeilen und Kommentare
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			if c.settings[currentSection] == nil {
				c.settings[currentSection] = make(map[string]string)
			}
			continue
		}

		if currentSection == "" {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			c.settings[currentSection][strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return scanner.Err()
}

// createDefaultConfig erstellt die Standard-Konfiguration
func (c *Config) createDefaultConfig() {
	c.settings["Server"] = map[string]string{
		"http_port":         "8080",
		"static_dir":        "static",
		"max_sessions":      "100",
		"max_inactive_time": "30m",
		"cleanup_interval":  "1m",
	}

	// Interpreter limits per session
	c.settings["Forth"] = map[string]string{
		"max_line_length": "1024",
		"max_batch_lines": "2000",
		"max_sleep_ms":    "60000",
		"max_call_depth":  "1024",
		"step_limit":      "10000000",
		"history_lines":   "2000",
	}

	c.settings["Network"] = map[string]string{
		"pong_timeout":        "90s",
		"ping_interval":       "30s",
		"write_wait_timeout":  "10s",
		"max_message_size_kb": "64",
		"max_channel_buffer":  "1024",
		"max_pending_lines":   "256",
	}

	c.settings["Security"] = map[string]string{
		"allowed_origins":      "",
		"max_sessions_per_ip":  "5",
		"max_message_length":   "4096",
		"rate_limit_messages":  "600",
		"rate_limit_bandwidth": "262144",
	}

	c.settings["JWT"] = map[string]string{
		"secret": "",
		"expiry": "24h",
	}

	c.settings["Database"] = map[string]string{
		"path": "retroforth.db",
	}

	c.settings["TLS"] = map[string]string{
		"enabled":           "false",
		"port":              "443",
		"cert_file":         "certs/server.crt",
		"key_file":          "certs/server.key",
		"use_letsencrypt":   "false",
		"domain":            "",
		"email":             "",
		"cache_dir":         "certs",
		"redirect_http":     "true",
		"http_port":         "80",
		"lets_encrypt_prod": "true",
		"self_signed":       "false",
	}

	c.settings["Debug"] = map[string]string{
		"enable_debug_logging": "true",
		"log_level":            "INFO",
		"log_file":             "debug.log",
		"max_log_size_mb":      "10",
		"log_rotation_count":   "3",
		// Selektive Logging-Bereiche
		"log_websocket": "false",
		"log_terminal":  "false",
		"log_forth":     "false",
		"log_auth":      "true",
		"log_resources": "true",
		"log_security":  "true",
		"log_database":  "false",
		"log_session":   "false",
		"log_config":    "true",
		"log_tls":       "true",
		"log_console":   "false",
		"log_general":   "true",
	}
}

// saveToFile speichert die aktuelle Konfiguration in die Datei
func (c *Config) saveToFile() error {
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	file, err := os.Create(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	c.write(w)
	return w.Flush()
}

func (c *Config) write(w io.Writer) {
	fmt.Fprint(w, "; RetroForth Configuration File\n")
	fmt.Fprint(w, "; Generated automatically - modify with care\n")
	fmt.Fprint(w, ";\n\n")

	// Known sections first, then whatever else was set
	sections := append([]string(nil), sectionOrder...)
	var extra []string
	for name := range c.settings {
		known := false
		for _, s := range sectionOrder {
			if s == name {
				known = true
				break
			}
		}
		if !known {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	sections = append(sections, extra...)

	for _, section := range sections {
		settings, exists := c.settings[section]
		if !exists {
			continue
		}
		fmt.Fprintf(w, "[%s]\n", section)
		keys := make([]string, 0, len(settings))
		for key := range settings {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(w, "%s = %s\n", key, settings[key])
		}
		fmt.Fprint(w, "\n")
	}
}

func (c *Config) get(section, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.settings[section][key]
	return value, ok
}

// GetString gibt einen String-Wert aus der Konfiguration zurück
func GetString(section, key, defaultValue string) string {
	if globalConfig == nil {
		return defaultValue
	}
	if value, ok := globalConfig.get(section, key); ok {
		return value
	}
	return defaultValue
}

// GetInt gibt einen Integer-Wert aus der Konfiguration zurück
func GetInt(section, key string, defaultValue int) int {
	if value, err := strconv.Atoi(GetString(section, key, "")); err == nil {
		return value
	}
	return defaultValue
}

// GetBool gibt einen Boolean-Wert aus der Konfiguration zurück
func GetBool(section, key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(GetString(section, key, "")); err == nil {
		return value
	}
	return defaultValue
}

// GetDuration gibt einen Duration-Wert aus der Konfiguration zurück
func GetDuration(section, key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(GetString(section, key, "")); err == nil {
		return value
	}
	return defaultValue
}

// GetList splits a comma separated value, dropping empty items.
func GetList(section, key string) []string {
	var out []string
	for _, item := range strings.Split(GetString(section, key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetSection returns a copy of all key-value pairs of a section
func GetSection(sectionName string) map[string]string {
	result := make(map[string]string)
	if globalConfig == nil {
		return result
	}

	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	for key, value := range globalConfig.settings[sectionName] {
		result[key] = value
	}
	return result
}

// SetString setzt einen String-Wert in der Konfiguration
func SetString(section, key, value string) {
	if globalConfig == nil {
		return
	}

	globalConfig.mu.Lock()
	defer globalConfig.mu.Unlock()
	if globalConfig.settings[section] == nil {
		globalConfig.settings[section] = make(map[string]string)
	}
	globalConfig.settings[section][key] = value
}

// Save speichert die aktuelle Konfiguration in die Datei
func Save() error {
	if globalConfig == nil {
		return errors.New("configuration not initialized")
	}

	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	return globalConfig.saveToFile()
}

// Use installs c as the global configuration.
func Use(c *Config) {
	globalConfig = c
}
