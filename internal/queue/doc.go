// Package queue implements the job queueing model: the broker
// capability (a persistent, ordered, at-least-once job store with
// delay, priority, lease and retry-counter semantics), its Redis
// implementation, and the JobQueueSet exposing the three logical queues
// with their distinct retry policies.
package queue
