// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by tests across the
// repository: bounded channel receives and sends that fail the test
// instead of hanging forever when an expected event never arrives.
package testutil
