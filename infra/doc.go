// Package infra contains technical adapters such as command station
// bridges, layout stores and metrics exporters. These packages should
// depend only on the interfaces defined in the core packages.
package infra
