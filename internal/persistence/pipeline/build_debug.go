//go:build debug

package pipeline

// debugBuild makes scheduling overruns fatal.
const debugBuild = true
