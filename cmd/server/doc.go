// Package main is the entry point for the Scriptbox MCP server.
//
// The Scriptbox server implements a secure, configurable Model Context
// Protocol (MCP) server that executes untrusted TypeScript/JavaScript inside
// an embedded interpreter. Module loading is restricted to an explicit
// package allowlist, output is captured up to configured ceilings, and every
// execution is bounded by a hard deadline. The server supports both stdio
// and HTTP transports.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
