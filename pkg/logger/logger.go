package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antibyte/retroforth/pkg/configuration"
)

// LogLevel definiert die verschiedenen Log-Level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// LogArea definiert die verschiedenen Log-Bereiche
type LogArea string

const (
	AreaWebSocket LogArea = "websocket"
	AreaTerminal  LogArea = "terminal"
	AreaForth     LogArea = "forth"
	AreaAuth      LogArea = "auth"
	AreaResources LogArea = "resources"
	AreaSecurity  LogArea = "security"
	AreaDatabase  LogArea = "database"
	AreaSession   LogArea = "session"
	AreaConfig    LogArea = "config"
	AreaTLS       LogArea = "tls"
	AreaConsole   LogArea = "console"
	AreaGeneral   LogArea = "general"
)

var allAreas = []LogArea{
	AreaWebSocket, AreaTerminal, AreaForth, AreaAuth, AreaResources,
	AreaSecurity, AreaDatabase, AreaSession, AreaConfig, AreaTLS,
	AreaConsole, AreaGeneral,
}

// Settings beschreibt die Logging-Konfiguration aus der [Debug]-Sektion
type Settings struct {
	Enabled       bool
	Level         LogLevel
	Path          string
	MaxSizeMB     int64
	RotationCount int
	Areas         map[LogArea]bool
}

// Logger ist das Hauptlogging-System
type Logger struct {
	enabled       int32              // atomic bool
	level         int32              // atomic LogLevel
	areaEnabled   map[LogArea]*int32 // atomic bools pro Bereich
	file          *os.File
	mutex         sync.Mutex
	logPath       string
	maxSize       int64
	rotationCount int
	currentSize   int64
}

var (
	globalLogger *Logger
	initOnce     sync.Once
)

// Initialize initialisiert das globale Logging-System aus settings.cfg
func Initialize() error {
	return InitializeWith(SettingsFromConfig())
}

// InitializeWith initialisiert das globale Logging-System mit festen Einstellungen
func InitializeWith(s Settings) error {
	var err error
	initOnce.Do(func() {
		globalLogger, err = New(s)
	})
	return err
}

// SettingsFromConfig liest die [Debug]-Sektion
func SettingsFromConfig() Settings {
	s := Settings{
		Enabled:       configuration.GetBool("Debug", "enable_debug_logging", true),
		Level:         ParseLevel(configuration.GetString("Debug", "log_level", "INFO")),
		Path:          configuration.GetString("Debug", "log_file", "debug.log"),
		MaxSizeMB:     int64(configuration.GetInt("Debug", "max_log_size_mb", 10)),
		RotationCount: configuration.GetInt("Debug", "log_rotation_count", 3),
		Areas:         make(map[LogArea]bool, len(allAreas)),
	}
	for _, area := range allAreas {
		s.Areas[area] = configuration.GetBool("Debug", "log_"+string(area), false)
	}
	return s
}

// New erstellt einen Logger, der in s.Path schreibt
func New(s Settings) (*Logger, error) {
	l := &Logger{
		areaEnabled: make(map[LogArea]*int32, len(allAreas)),
	}
	for _, area := range allAreas {
		l.areaEnabled[area] = new(int32)
	}
	l.apply(s)

	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) apply(s Settings) {
	atomic.StoreInt32(&l.enabled, boolToInt32(s.Enabled))
	atomic.StoreInt32(&l.level, int32(s.Level))
	for area, flag := range l.areaEnabled {
		atomic.StoreInt32(flag, boolToInt32(s.Areas[area]))
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.logPath = s.Path
	l.maxSize = s.MaxSizeMB * 1024 * 1024
	l.rotationCount = s.RotationCount
}

// openLogFile öffnet die Log-Datei
func (l *Logger) openLogFile() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = file

	if stat, err := file.Stat(); err == nil {
		l.currentSize = stat.Size()
	}
	return nil
}

// rotateLocked rotiert die Log-Datei; der Aufrufer hält l.mutex
func (l *Logger) rotateLocked() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	// Älteste Datei fällt weg, die übrigen rücken eine Nummer auf
	if l.rotationCount > 0 {
		os.Remove(fmt.Sprintf("%s.%d", l.logPath, l.rotationCount))
	}
	for i := l.rotationCount - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", l.logPath, i), fmt.Sprintf("%s.%d", l.logPath, i+1))
	}
	if l.rotationCount > 0 {
		os.Rename(l.logPath, l.logPath+".1")
	}

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.currentSize = 0
	return nil
}

func (l *Logger) isAreaEnabled(area LogArea) bool {
	if flag, exists := l.areaEnabled[area]; exists {
		return atomic.LoadInt32(flag) != 0
	}
	return false
}

// shouldLog prüft ob ein Log-Eintrag geschrieben werden soll
func (l *Logger) shouldLog(level LogLevel, area LogArea) bool {
	if atomic.LoadInt32(&l.enabled) == 0 {
		return false
	}
	if atomic.LoadInt32(&l.level) > int32(level) {
		return false
	}
	// Warnungen und Fehler werden unabhängig vom Bereich geschrieben
	return level >= WARN || l.isAreaEnabled(area)
}

// writeLog schreibt den Log-Eintrag
func (l *Logger) writeLog(level LogLevel, area LogArea, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	_, file, line, _ := runtime.Caller(3)
	entry := fmt.Sprintf("[%s] %s [%s:%d] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		logLevelNames[level],
		filepath.Base(file),
		line,
		strings.ToUpper(string(area)),
		message)

	l.mutex.Lock()
	if l.file != nil {
		if n, err := l.file.WriteString(entry); err == nil {
			l.currentSize += int64(n)
			if l.maxSize > 0 && l.currentSize > l.maxSize {
				l.rotateLocked()
			}
		}
	}
	l.mutex.Unlock()

	if level >= WARN {
		log.Printf("[%s] [%s] %s", logLevelNames[level], strings.ToUpper(string(area)), message)
	}
}

// Close schließt die Log-Datei
func (l *Logger) Close() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func logf(level LogLevel, area LogArea, format string, args ...interface{}) {
	if l := globalLogger; l != nil && l.shouldLog(level, area) {
		l.writeLog(level, area, format, args...)
	}
}

// Debug schreibt Debug-Logs
func Debug(area LogArea, format string, args ...interface{}) { logf(DEBUG, area, format, args...) }

// Info schreibt Info-Logs
func Info(area LogArea, format string, args ...interface{}) { logf(INFO, area, format, args...) }

// Warn schreibt Warning-Logs
func Warn(area LogArea, format string, args ...interface{}) { logf(WARN, area, format, args...) }

// Error schreibt Error-Logs
func Error(area LogArea, format string, args ...interface{}) { logf(ERROR, area, format, args...) }

// Fatal schreibt Fatal-Logs und beendet das Programm
func Fatal(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.writeLog(FATAL, area, format, args...)
	}
	log.Fatalf("[FATAL] [%s] %s", strings.ToUpper(string(area)), fmt.Sprintf(format, args...))
}

// ReloadConfig lädt die [Debug]-Sektion neu
func ReloadConfig() error {
	if globalLogger == nil {
		return fmt.Errorf("logger not initialized")
	}
	globalLogger.apply(SettingsFromConfig())
	return nil
}

// EnableArea aktiviert Logging für einen Bereich
func EnableArea(area LogArea) {
	if globalLogger != nil {
		if flag, exists := globalLogger.areaEnabled[area]; exists {
			atomic.StoreInt32(flag, 1)
		}
	}
}

// DisableArea deaktiviert Logging für einen Bereich
func DisableArea(area LogArea) {
	if globalLogger != nil {
		if flag, exists := globalLogger.areaEnabled[area]; exists {
			atomic.StoreInt32(flag, 0)
		}
	}
}

// GetAreaStatus gibt den Status eines Bereichs zurück
func GetAreaStatus(area LogArea) bool {
	if globalLogger != nil {
		return globalLogger.isAreaEnabled(area)
	}
	return false
}

// ListAreas gibt alle verfügbaren Bereiche zurück
func ListAreas() []LogArea {
	return append([]LogArea(nil), allAreas...)
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// ParseLevel wandelt einen Level-Namen um; Unbekanntes wird INFO
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close schließt das globale Logging-System
func Close() {
	if globalLogger != nil {
		globalLogger.Close()
	}
}
