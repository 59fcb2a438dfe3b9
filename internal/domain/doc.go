// Package domain contains the core entities of the execution platform:
// jobs and their retry policies, workflow execution records, schedule
// triggers, dead-letter entries, alerts, and leads. It has no knowledge
// of the broker, the database, or the HTTP surface.
package domain
