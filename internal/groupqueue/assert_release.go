//go:build !glowseqdebug

package groupqueue

const debugAssertions = false
