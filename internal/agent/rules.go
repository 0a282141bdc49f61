package agent

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// XSSPattern is one source pattern the security scanner flags as a sink.
type XSSPattern struct {
	Pattern string `yaml:"pattern"`
	Message string `yaml:"message"`

	re *regexp.Regexp
}

// ScanRules configures the security scanner's pattern tables. The defaults
// are compiled in; operators can override them from a YAML rules file.
type ScanRules struct {
	XSSPatterns            []XSSPattern `yaml:"xss_patterns"`
	VulnerableDependencies []string     `yaml:"vulnerable_dependencies"`
}

// DefaultScanRules returns the built-in rule set.
func DefaultScanRules() ScanRules {
	rules := ScanRules{
		XSSPatterns: []XSSPattern{
			{Pattern: `innerHTML\s*=`, Message: "innerHTML assignment – potential XSS sink."},
			{Pattern: `document\.write\s*\(`, Message: "document.write() – potential XSS sink."},
			{Pattern: `eval\s*\(`, Message: "eval() – potential XSS / code injection."},
		},
		VulnerableDependencies: []string{
			"lodash@4.17.20",
			"axios@0.21.0",
			"minimist@1.2.0",
		},
	}
	if err := rules.compile(); err != nil {
		// Built-in patterns are static; a compile failure is a programming error.
		panic(err)
	}
	return rules
}

// LoadScanRules reads a YAML rules file. A missing file yields the defaults.
func LoadScanRules(path string) (ScanRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultScanRules(), nil
		}
		return ScanRules{}, fmt.Errorf("read scan rules: %w", err)
	}

	var rules ScanRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return ScanRules{}, fmt.Errorf("parse scan rules %s: %w", path, err)
	}

	defaults := DefaultScanRules()
	if len(rules.XSSPatterns) == 0 {
		rules.XSSPatterns = defaults.XSSPatterns
	}
	if len(rules.VulnerableDependencies) == 0 {
		rules.VulnerableDependencies = defaults.VulnerableDependencies
	}
	if err := rules.compile(); err != nil {
		return ScanRules{}, err
	}
	return rules, nil
}

func (r *ScanRules) compile() error {
	for i := range r.XSSPatterns {
		re, err := regexp.Compile(r.XSSPatterns[i].Pattern)
		if err != nil {
			return fmt.Errorf("compile xss pattern %q: %w", r.XSSPatterns[i].Pattern, err)
		}
		r.XSSPatterns[i].re = re
	}
	return nil
}
