// Package tier implements the Tier Manager (spec §4.5): it keeps tier
// populations within configured capacities via batched promotion and
// demotion, with hysteresis against flapping and backpressure against
// query-latency pressure.
package tier
