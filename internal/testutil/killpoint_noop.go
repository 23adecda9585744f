//go:build !crashtest

// Package testutil provides test utilities for stress testing and verification.
//
// This file provides no-op implementations of kill point functions for
// production builds. When built without the "crashtest" tag, all kill point
// calls are effectively eliminated by the compiler.
package testutil

// KillPointEnvVar is the environment variable used to set the kill point target.
// In production builds, this is defined but ignored.
const KillPointEnvVar = "SSTABLE_KILL_POINT"

// SetKillPoint is a no-op in production builds.
func SetKillPoint(_ string) {}

// ClearKillPoint is a no-op in production builds.
func ClearKillPoint() {}

// ArmKillPoint is a no-op in production builds.
func ArmKillPoint() {}

// DisarmKillPoint is a no-op in production builds.
func DisarmKillPoint() {}

// IsKillPointArmed always returns false in production builds.
func IsKillPointArmed() bool { return false }

// GetKillPointTarget always returns empty string in production builds.
func GetKillPointTarget() string { return "" }

// GetKillPointHitCount always returns 0 in production builds.
func GetKillPointHitCount(_ string) int64 { return 0 }

// ResetKillPointCounts is a no-op in production builds.
func ResetKillPointCounts() {}

// MaybeKill is a no-op in production builds.
// The compiler should inline and eliminate this entirely.
func MaybeKill(_ string) {}

// Kill point name constants - defined for API compatibility even in prod builds.
const (
	// Partition appender kill points
	KPPartitionAppend0   = "PartitionAppend:0"
	KPPartitionBoundary0 = "PartitionBoundary:0"

	// Row index builder kill points
	KPRowIndexBlockSeal0 = "RowIndex.BlockSeal:0"
	KPRowIndexSeal       = "RowIndex.Seal:0"

	// Primary index writer kill points
	KPPrimaryIndexFlush0 = "PrimaryIndex.Flush:0"
	KPPrimaryIndexFlush1 = "PrimaryIndex.Flush:1"

	// Component-set writer kill points
	KPComponentRename0 = "Component.Rename:0"
	KPComponentRename1 = "Component.Rename:1"

	// Generic file kill points
	KPFileSync0 = "File.Sync:0"
	KPFileSync1 = "File.Sync:1"

	// Directory sync kill points
	KPDirSync0 = "Dir.Sync:0"
	KPDirSync1 = "Dir.Sync:1"
)
