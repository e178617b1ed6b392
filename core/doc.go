// Package core contains the connected app domain model, capability
// contracts, host collaborator contracts and the host runtime that installs,
// dispatches and schedules app adapters. Vendor adapters depend on this
// package; core must not depend on any adapter.
package core
