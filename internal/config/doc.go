// Package config loads and validates the YAML build configuration of the
// offline bundle builder: upstream URL templates, pinned versions, fallback
// pins, community mirrors and transfer retry settings.
package config
