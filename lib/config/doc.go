// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for the core and the front end.
//
// Configuration comes from a single YAML file named by:
//   - the PEERPROXY_CONFIG environment variable, or
//   - the --config flag passed to a command.
//
// There is no automatic discovery. Commands that run without a config
// file use [Default]. The file may carry environment-specific sections
// (development, staging, production) that override base values when
// the top-level environment matches.
package config
