//go:build !debug

package pipeline

const debugBuild = false
