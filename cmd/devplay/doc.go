// Package main hosts the devplay CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the install-queue controller as a
// foreground process, inspects and edits the persisted queue, serves a local
// fake registry for development, and scaffolds configuration. It centralizes
// configuration resolution, locking and logging setup so subcommands can
// focus on output instead of wiring.
//
// Keep this package lean: new behaviour belongs in the internal packages
// first and is surfaced here through dedicated commands or flags.
package main
