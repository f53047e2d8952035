// Package logging provides config-driven categorized file-based logging for
// warden. Logs are written to .warden/logs/ with separate files per category.
// Logging is controlled by debug_mode in .warden/config.yaml - when false, no
// logs are written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot       Category = "boot"       // Boot/initialization
	CategoryParser     Category = "parser"     // Tool-call extraction
	CategoryPatch      Category = "patch"      // Diff parse/apply
	CategoryMutation   Category = "mutation"   // File mutation dispatch
	CategoryGuardian   Category = "guardian"   // Structural quality scanning
	CategoryDetector   Category = "detector"   // Hallucination detection
	CategoryJudge      Category = "judge"      // Secondary judge
	CategoryGate       Category = "gate"       // Validation gate / retry policy
	CategoryTurn       Category = "turn"       // Turn state machine
	CategoryPlanner    Category = "planner"    // Multi-step planner
	CategoryValidators Category = "validators" // External validator calls
	CategoryModel      Category = "model"      // Model backend calls
	CategoryStore      Category = "store"      // Audit store
)

// loggingConfig mirrors the relevant part of config.LoggingConfig to avoid a
// circular import.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".warden", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== warden logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", config.Level)

	return nil
}

func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".warden", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation trivial.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if the logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Parser logs to the parser category.
func Parser(format string, args ...interface{}) { Get(CategoryParser).Info(format, args...) }

// ParserDebug logs debug to the parser category.
func ParserDebug(format string, args ...interface{}) { Get(CategoryParser).Debug(format, args...) }

// Patch logs to the patch category.
func Patch(format string, args ...interface{}) { Get(CategoryPatch).Info(format, args...) }

// PatchDebug logs debug to the patch category.
func PatchDebug(format string, args ...interface{}) { Get(CategoryPatch).Debug(format, args...) }

// Mutation logs to the mutation category.
func Mutation(format string, args ...interface{}) { Get(CategoryMutation).Info(format, args...) }

// MutationDebug logs debug to the mutation category.
func MutationDebug(format string, args ...interface{}) { Get(CategoryMutation).Debug(format, args...) }

// MutationError logs error to the mutation category.
func MutationError(format string, args ...interface{}) { Get(CategoryMutation).Error(format, args...) }

// Guardian logs to the guardian category.
func Guardian(format string, args ...interface{}) { Get(CategoryGuardian).Info(format, args...) }

// GuardianDebug logs debug to the guardian category.
func GuardianDebug(format string, args ...interface{}) { Get(CategoryGuardian).Debug(format, args...) }

// Detector logs to the detector category.
func Detector(format string, args ...interface{}) { Get(CategoryDetector).Info(format, args...) }

// DetectorDebug logs debug to the detector category.
func DetectorDebug(format string, args ...interface{}) { Get(CategoryDetector).Debug(format, args...) }

// Judge logs to the judge category.
func Judge(format string, args ...interface{}) { Get(CategoryJudge).Info(format, args...) }

// JudgeDebug logs debug to the judge category.
func JudgeDebug(format string, args ...interface{}) { Get(CategoryJudge).Debug(format, args...) }

// JudgeWarn logs warning to the judge category.
func JudgeWarn(format string, args ...interface{}) { Get(CategoryJudge).Warn(format, args...) }

// Gate logs to the gate category.
func Gate(format string, args ...interface{}) { Get(CategoryGate).Info(format, args...) }

// GateDebug logs debug to the gate category.
func GateDebug(format string, args ...interface{}) { Get(CategoryGate).Debug(format, args...) }

// Turn logs to the turn category.
func Turn(format string, args ...interface{}) { Get(CategoryTurn).Info(format, args...) }

// TurnDebug logs debug to the turn category.
func TurnDebug(format string, args ...interface{}) { Get(CategoryTurn).Debug(format, args...) }

// Planner logs to the planner category.
func Planner(format string, args ...interface{}) { Get(CategoryPlanner).Info(format, args...) }

// PlannerDebug logs debug to the planner category.
func PlannerDebug(format string, args ...interface{}) { Get(CategoryPlanner).Debug(format, args...) }

// Validators logs to the validators category.
func Validators(format string, args ...interface{}) { Get(CategoryValidators).Info(format, args...) }

// ValidatorsWarn logs warning to the validators category.
func ValidatorsWarn(format string, args ...interface{}) { Get(CategoryValidators).Warn(format, args...) }

// Model logs to the model category.
func Model(format string, args ...interface{}) { Get(CategoryModel).Info(format, args...) }

// ModelDebug logs debug to the model category.
func ModelDebug(format string, args ...interface{}) { Get(CategoryModel).Debug(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreError logs error to the store category.
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds the threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
