// Package cron parses five-field cron patterns and computes fire times.
//
// Supported per-field syntax: "*", "N", names ("jan".."dec", "sun".."sat"),
// ranges "A-B", steps "*/S", "A/S", "A-B/S", and comma-separated lists of these.
//
// Day-of-month and day-of-week are OR'd when both are restricted; when either
// field is "*" the other one alone decides.
package cron
