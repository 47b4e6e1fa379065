// Package detector classifies browser page snapshots into human-intervention
// triggers: CAPTCHA widgets, two-factor prompts, ambiguous forms, and HTTP
// anomalies. Detection is pure and deterministic; malformed or empty input
// yields "no trigger" rather than an error, so a bad snapshot never aborts
// the automation run.
package detector
