// Package auth verifies credentials of the configured users and keeps track of
// logged in sessions.
//
// Credentials are bcrypt hashes read from the configuration, plain passwords
// are never stored. Sessions live in memory, are identified by random tokens
// and expire after a fixed TTL. A gocron scheduler created by NewSweeper
// removes the expired ones.
package auth
