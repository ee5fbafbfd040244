package logging

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose name matches Pattern. A pattern is
// dot separated logger name sections where "*" matches anything, e.g. "teleop.*_arm".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

var patternGrammar = regexp.MustCompile(`^([a-zA-Z0-9_*-]+)(\.[a-zA-Z0-9_*-]+)*$`)

// ValidatePattern reports whether a logger name pattern is well formed.
func ValidatePattern(pattern string) bool {
	return patternGrammar.MatchString(pattern)
}

type levelRule struct {
	match *regexp.Regexp
	level Level
}

func compileRules(cfg []LoggerPatternConfig) ([]levelRule, error) {
	rules := make([]levelRule, 0, len(cfg))
	for _, lpc := range cfg {
		if !ValidatePattern(lpc.Pattern) {
			return nil, errors.Errorf("invalid logger pattern %q", lpc.Pattern)
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "pattern %q", lpc.Pattern)
		}
		expr := strings.ReplaceAll(regexp.QuoteMeta(lpc.Pattern), `\*`, `.*`)
		rules = append(rules, levelRule{match: regexp.MustCompile("^" + expr + "$"), level: level})
	}
	return rules, nil
}

// Registry tracks named loggers so their levels can follow configured patterns.
type Registry struct {
	mu           sync.Mutex
	loggers      map[string]Logger
	rules        []levelRule
	defaultLevel Level
}

// NewRegistry returns an empty registry. Loggers that match no pattern are set to defaultLevel.
func NewRegistry(defaultLevel Level) *Registry {
	return &Registry{loggers: map[string]Logger{}, defaultLevel: defaultLevel}
}

// Register adds the logger under its name and applies any matching pattern. If a logger is
// already registered under that name the existing one is returned.
func (r *Registry) Register(logger Logger) Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.loggers[logger.Name()]; ok {
		return existing
	}
	r.loggers[logger.Name()] = logger
	if level, ok := r.levelFor(logger.Name()); ok {
		logger.SetLevel(level)
	}
	return logger
}

// levelFor returns the level of the last rule matching name. Expects mu held.
func (r *Registry) levelFor(name string) (Level, bool) {
	for i := len(r.rules) - 1; i >= 0; i-- {
		if r.rules[i].match.MatchString(name) {
			return r.rules[i].level, true
		}
	}
	return r.defaultLevel, false
}

// UpdateConfig replaces the pattern rules and re-levels every registered logger. An invalid
// config leaves the previous rules in place.
func (r *Registry) UpdateConfig(cfg []LoggerPatternConfig) error {
	rules, err := compileRules(cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
	for name, logger := range r.loggers {
		level, _ := r.levelFor(name)
		logger.SetLevel(level)
	}
	return nil
}
