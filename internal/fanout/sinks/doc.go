// Package sinks implements concrete fan-out consumers such as structured
// logging, Prometheus, Pub/Sub and the blob archive. Each sink satisfies the
// fanout.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
