// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Defaults (a flat map keyed by dotted path)
//  2. Configuration file (YAML; JSON is accepted as a YAML subset)
//  3. Environment variables (PKSA_SECTION_KEY)
//
// The Watcher reports changes to watched files so callers can reload the
// settings that support it.
//
// @design DS-0502
package confloader
