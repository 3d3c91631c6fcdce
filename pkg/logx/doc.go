// Package logx is the watcher's structured logging layer: a thin Logger on
// top of zerolog with a console format for interactive use, an optional JSON
// mode for service deployments, and an optional file sink. The Service
// rebuilds the sinks on config reload; handed-out Loggers follow along.
package logx
