// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package processor

import (
	"fmt"
	"strings"

	"github.com/streamwarden/streamwarden/internal/detect"
)

// highRiskIndicators assembles the human-readable indicator strings
// persisted with each record. The list is derived from detector findings,
// deduplicated, and ordered content, temporal, behavioral.
func highRiskIndicators(results map[string]*detect.Result) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if content := results[detect.NameContent]; content != nil {
		for _, a := range content.Anomalies {
			switch {
			case strings.HasPrefix(a.Type, "secret_"):
				add("Potential secret exposed: " + strings.TrimPrefix(a.Type, "secret_"))
			case a.Type == "force_push_default_branch":
				add("Force push to default branch")
			case a.Type == "force_push":
				add("Force push (history rewrite)")
			case a.Type == "mass_deletion":
				add(fmt.Sprintf("Mass file deletion (%d files)", int(a.Current)))
			case a.Type == "ref_deletion":
				add("Branch or tag deleted")
			case a.Type == "suspicious_file":
				add("Credential-like file committed")
			}
		}
	}

	if temporal := results[detect.NameTemporal]; temporal != nil {
		for _, p := range temporal.Patterns {
			switch p.Type {
			case "activity_burst":
				add("Activity burst detected")
			case "coordinated_activity":
				add(fmt.Sprintf("Coordinated activity (%d actors)", p.ActorCount))
			case "unusual_timing":
				add("Unusual timing distribution")
			case "velocity_acceleration":
				add("Accelerating event velocity")
			}
		}
	}

	if behavioral := results[detect.NameBehavioral]; behavioral != nil {
		for _, a := range behavioral.Anomalies {
			if a.Severity >= 0.7 {
				add("Behavioral deviation: " + a.FeatureName)
			}
		}
	}

	return out
}
