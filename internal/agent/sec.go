package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dragon-ia/dragond/internal/bus"
)

// Vulnerability is one entry in the security report.
type Vulnerability struct {
	Type     string `json:"type"` // CSP | XSS | DEPENDENCY
	Severity string `json:"severity"`
	File     string `json:"file,omitempty"`
	Message  string `json:"message"`
}

// Risk is a soft finding that needs human review.
type Risk struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// DependencyAlert flags a known-vulnerable dependency pin.
type DependencyAlert struct {
	Package string `json:"package"`
	Message string `json:"message"`
}

// SecReport is the security scanner's result.
type SecReport struct {
	Agent            string            `json:"agent"`
	Timestamp        time.Time         `json:"timestamp"`
	Vulnerabilities  []Vulnerability   `json:"vulnerabilities"`
	SecurityScore    int               `json:"securityScore"`
	CSPValid         bool              `json:"cspValid"`
	XSSRisks         []Risk            `json:"xssRisks"`
	CSRFRisks        []Risk            `json:"csrfRisks"`
	DependencyAlerts []DependencyAlert `json:"dependencyAlerts"`
}

var reFetch = regexp.MustCompile(`fetch\s*\(`)

// NewSecRunner builds the security scanning agent with the given rules.
func NewSecRunner(b *bus.Bus, rules ScanRules) *Runner {
	return NewRunner("sec", b, func(_ context.Context, task Task) (any, error) {
		t, ok := task.(SecTask)
		if !ok {
			return nil, fmt.Errorf("sec agent: unexpected task type %T", task)
		}
		return scanSecurity(t, rules), nil
	})
}

func scanSecurity(t SecTask, rules ScanRules) SecReport {
	report := SecReport{
		Agent:            "sec",
		Timestamp:        time.Now(),
		Vulnerabilities:  []Vulnerability{},
		XSSRisks:         []Risk{},
		CSRFRisks:        []Risk{},
		DependencyAlerts: []DependencyAlert{},
	}

	if t.Headers != nil {
		checkCSP(t.Headers, &report)
	}
	for _, f := range t.Files {
		checkXSS(f, rules, &report)
		checkCSRF(f, &report)
	}
	checkDependencies(t.Dependencies, rules, &report)

	report.SecurityScore = securityScore(report.Vulnerabilities)
	return report
}

func checkCSP(headers map[string]string, report *SecReport) {
	csp := headers["content-security-policy"]
	if csp == "" {
		csp = headers["Content-Security-Policy"]
	}
	switch {
	case csp == "":
		report.Vulnerabilities = append(report.Vulnerabilities, Vulnerability{
			Type: "CSP", Severity: "high", Message: "Missing Content-Security-Policy header.",
		})
	case strings.Contains(csp, "'unsafe-inline'") || strings.Contains(csp, "'unsafe-eval'"):
		report.Vulnerabilities = append(report.Vulnerabilities, Vulnerability{
			Type: "CSP", Severity: "medium", Message: "CSP allows 'unsafe-inline' or 'unsafe-eval'.",
		})
	default:
		report.CSPValid = true
	}
}

func checkXSS(f File, rules ScanRules, report *SecReport) {
	for _, p := range rules.XSSPatterns {
		if p.re.MatchString(f.Content) {
			report.XSSRisks = append(report.XSSRisks, Risk{File: f.Name, Message: p.Message})
			report.Vulnerabilities = append(report.Vulnerabilities, Vulnerability{
				Type: "XSS", Severity: "high", File: f.Name, Message: p.Message,
			})
		}
	}
}

func checkCSRF(f File, report *SecReport) {
	if reFetch.MatchString(f.Content) &&
		!strings.Contains(f.Content, "csrf") && !strings.Contains(f.Content, "X-CSRF") {
		report.CSRFRisks = append(report.CSRFRisks, Risk{
			File:    f.Name,
			Message: "fetch() call without visible CSRF token – review needed.",
		})
	}
}

func checkDependencies(deps []Dependency, rules ScanRules, report *SecReport) {
	vulnerable := make(map[string]bool, len(rules.VulnerableDependencies))
	for _, v := range rules.VulnerableDependencies {
		vulnerable[v] = true
	}
	for _, d := range deps {
		key := d.Name + "@" + d.Version
		if vulnerable[key] {
			report.DependencyAlerts = append(report.DependencyAlerts, DependencyAlert{
				Package: key, Message: "Known vulnerable version – update required.",
			})
			report.Vulnerabilities = append(report.Vulnerabilities, Vulnerability{
				Type: "DEPENDENCY", Severity: "high", Message: "Vulnerable package: " + key,
			})
		}
	}
}

func securityScore(vulns []Vulnerability) int {
	score := 100
	for _, v := range vulns {
		switch v.Severity {
		case "high":
			score -= 15
		case "medium":
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}
