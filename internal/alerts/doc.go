// Package alerts evaluates data-quality rules against per-metric stats and
// delivers webhook notifications (Slack, Teams, generic HTTP) when rules
// fire or resolve. Conditions are simple "field op value" expressions over
// the deriver's quality counters and feed staleness; cooldowns suppress
// repeated fires.
package alerts
