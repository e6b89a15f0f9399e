// Package domain defines core data models and interfaces shared across peerlink.
// It contains plain types (wire/state), contracts (interfaces) and error kinds only.
package domain
