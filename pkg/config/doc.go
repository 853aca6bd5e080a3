// Package config loads and validates configuration for the core and
// its ambient collaborators (server, rate limiter, logging) using
// Viper. Every key has a coded default; validation failures are
// reported as a single aggregated error listing every violation
// rather than stopping at the first.
package config
