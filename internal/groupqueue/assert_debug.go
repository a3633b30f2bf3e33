//go:build glowseqdebug

package groupqueue

const debugAssertions = true
