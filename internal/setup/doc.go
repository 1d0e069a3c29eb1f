// Package setup resolves the configuration of the ecu command: built-in
// defaults, the optional XDG configuration file and the package store
// location.
//
// It is the only package that logs through a package-level logger.
package setup
