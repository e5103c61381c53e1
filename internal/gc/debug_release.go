//go:build !debugChecks

package gc

const debugChecks = false
