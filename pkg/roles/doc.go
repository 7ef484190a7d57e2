// Package roles owns the role catalog and role assignments.
//
// The catalog is seeded from a YAML file and optionally hot-reloaded on
// change; permission strings are parsed at load time, so a malformed
// role definition fails the load instead of silently never matching.
// Assignments bind an actor to a catalog role at an org path (team
// assignments also carry the team ID). The assignment service reserves
// quota and inserts the row in one transaction, and the directory
// resolves actors to their grant sets with two cache layers in front of
// postgres.
package roles
