// Package config loads and validates the settings of a lattice engine.
//
// Settings start from Default, are overlaid by a YAML file with Load and by
// LATTICE_* environment variables with ApplyEnv, and are checked with
// Validate before use. Keys missing from the file keep their defaults.
package config
