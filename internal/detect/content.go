// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package detect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/streamwarden/streamwarden/internal/models"
)

// secretPattern is one entry in the fixed secret scanning table.
type secretPattern struct {
	name     string
	re       *regexp.Regexp
	severity float64
}

// secretPatterns is compiled once at init. Severities come from how
// directly a leaked match grants access.
var secretPatterns = []secretPattern{
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), 0.9},
	{"aws_secret_key", regexp.MustCompile(`(?i)aws[_\-\s]*secret[_\-\s]*key[_\-\s]*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`), 0.9},
	{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`), 0.9},
	{"private_key", regexp.MustCompile(`-----BEGIN\s+[A-Z ]*PRIVATE\s+KEY-----`), 0.9},
	{"stripe_live_key", regexp.MustCompile(`sk_live_[a-zA-Z0-9]{24}`), 0.9},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}-[a-zA-Z0-9]{24,34}`), 0.8},
	{"url_credentials", regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^/\s:@]+:[^@\s]+@[^\s]+`), 0.8},
	{"jwt_token", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`), 0.7},
	{"connection_string", regexp.MustCompile(`(?i)(mongodb|mysql|postgres|postgresql|redis|amqp)://[^\s]+`), 0.7},
	{"generic_api_key", regexp.MustCompile(`(?i)api[_\-\s]*key[_\-\s]*[:=]\s*['"]?[A-Za-z0-9]{20,}['"]?`), 0.6},
	{"generic_secret", regexp.MustCompile(`(?i)secret[_\-\s]*[:=]\s*['"]?[A-Za-z0-9]{16,}['"]?`), 0.6},
	{"generic_token", regexp.MustCompile(`(?i)token[_\-\s]*[:=]\s*['"]?[A-Za-z0-9]{20,}['"]?`), 0.5},
}

// suspiciousFileRe matches credential-shaped filenames.
var suspiciousFileRe = regexp.MustCompile(`(?i)(^|/)(\.env(\..+)?|id_rsa|id_dsa|id_ecdsa|id_ed25519|credentials[^/]*|[^/]*secret[^/]*|[^/]*\.pem|[^/]*\.p12|[^/]*\.pfx|[^/]*\.keystore)$`)

// binaryExtensions marks file changes the pipeline treats as binary.
var binaryExtensions = []string{
	".exe", ".dll", ".so", ".dylib", ".bin", ".jar", ".war",
	".zip", ".tar", ".gz", ".7z", ".rar", ".iso", ".img",
}

// Content rule severities.
const (
	forcePushDefaultSeverity = 0.8
	forcePushOtherSeverity   = 0.5
	massDeletionSeverity     = 0.7
	massDeletionHighSeverity = 0.9
	massDeletionThreshold    = 10
	massDeletionHighCount    = 50
	suspiciousFileSeverity   = 0.6
	suspiciousFileCap        = 0.9
	binaryChangeSeverity     = 0.3
	binaryChangeCap          = 0.5
)

// ContentDetector scans payload contents for risky changes: leaked
// secrets, history rewrites, mass deletions, credential-shaped files, and
// binary blobs. Matches are always redacted (prefix + length); the full
// secret never leaves the detector.
type ContentDetector struct{}

// NewContentDetector creates the content detector.
func NewContentDetector() *ContentDetector {
	return &ContentDetector{}
}

// Name implements Detector.
func (d *ContentDetector) Name() string { return NameContent }

// Detect implements Detector.
func (d *ContentDetector) Detect(ctx context.Context, in *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Detail: map[string]any{}}

	switch in.Event.Type {
	case models.EventTypePush:
		p, err := in.Event.PushPayload()
		if err != nil {
			return nil, err
		}
		d.analyzePush(result, p)
	case models.EventTypeDelete:
		p, err := in.Event.DeletePayload()
		if err != nil {
			return nil, err
		}
		d.analyzeDelete(result, p)
	case models.EventTypeWorkflowRun:
		p, err := in.Event.WorkflowRunPayload()
		if err != nil {
			return nil, err
		}
		d.analyzeWorkflowRun(result, p)
	}

	for _, a := range result.Anomalies {
		if a.Severity > result.Score {
			result.Score = a.Severity
		}
	}
	return result, nil
}

func (d *ContentDetector) analyzePush(result *Result, p *models.PushPayload) {
	// Force push / history rewrite.
	if p.Forced {
		severity := forcePushOtherSeverity
		anomalyType := "force_push"
		if p.OnDefaultBranch() {
			severity = forcePushDefaultSeverity
			anomalyType = "force_push_default_branch"
		}
		result.Anomalies = append(result.Anomalies, Anomaly{
			Type:     anomalyType,
			Severity: severity,
			Location: p.Ref,
		})
	}

	deletions := 0
	suspiciousHits := 0.0
	binaryHits := 0.0

	for _, commit := range p.Commits {
		// Secret scan over the commit message.
		for _, hit := range scanSecrets(commit.Message) {
			hit.Location = shortSHA(commit.SHA)
			result.Anomalies = append(result.Anomalies, hit)
		}

		deletions += len(commit.Removed)

		for _, lists := range [][]string{commit.Added, commit.Modified} {
			for _, name := range lists {
				if suspiciousFileRe.MatchString(name) {
					suspiciousHits += suspiciousFileSeverity
					result.Anomalies = append(result.Anomalies, Anomaly{
						Type:     "suspicious_file",
						Severity: min(suspiciousHits, suspiciousFileCap),
						Location: fmt.Sprintf("%s:%s", shortSHA(commit.SHA), name),
					})
				}
				if isBinaryFile(name) {
					binaryHits += binaryChangeSeverity
					result.Anomalies = append(result.Anomalies, Anomaly{
						Type:     "binary_change",
						Severity: min(binaryHits, binaryChangeCap),
						Location: fmt.Sprintf("%s:%s", shortSHA(commit.SHA), name),
					})
				}
			}
		}
	}

	if deletions >= massDeletionThreshold {
		severity := massDeletionSeverity
		if deletions >= massDeletionHighCount {
			severity = massDeletionHighSeverity
		}
		result.Anomalies = append(result.Anomalies, Anomaly{
			Type:     "mass_deletion",
			Current:  float64(deletions),
			Severity: severity,
			Location: p.Ref,
		})
	}
	result.Detail["deleted_files"] = deletions
}

func (d *ContentDetector) analyzeDelete(result *Result, p *models.DeletePayload) {
	// A deleted branch or tag is a history-loss event on its own.
	result.Anomalies = append(result.Anomalies, Anomaly{
		Type:     "ref_deletion",
		Severity: massDeletionSeverity,
		Location: p.RefType + ":" + p.Ref,
	})
}

func (d *ContentDetector) analyzeWorkflowRun(result *Result, p *models.WorkflowRunPayload) {
	if p.WorkflowRun.Conclusion == "failure" {
		result.Anomalies = append(result.Anomalies, Anomaly{
			Type:     "workflow_failure",
			Severity: 0.3,
			Location: p.WorkflowRun.Name,
		})
	}
	// Secret scan workflow names; injected workflows sometimes carry
	// payloads in the name field.
	for _, hit := range scanSecrets(p.WorkflowRun.Name) {
		hit.Location = "workflow:" + p.WorkflowRun.Name[:min(16, len(p.WorkflowRun.Name))]
		result.Anomalies = append(result.Anomalies, hit)
	}
}

// scanSecrets runs the pattern table over text and returns redacted hits.
func scanSecrets(text string) []Anomaly {
	if text == "" {
		return nil
	}
	var hits []Anomaly
	for _, p := range secretPatterns {
		match := p.re.FindString(text)
		if match == "" {
			continue
		}
		hits = append(hits, Anomaly{
			Type:     "secret_" + p.name,
			Severity: p.severity,
			Match:    redact(match),
		})
	}
	return hits
}

// redact reduces a matched secret to its first 16 characters plus length.
// The full match is never emitted.
func redact(match string) string {
	prefix := match
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return fmt.Sprintf("%s... (%d chars)", prefix, len(match))
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func isBinaryFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range binaryExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
