// Command postflow is the CLI for the postflow content pipeline. It manages
// projects, reviews insights and posts, inspects the job queue, and can
// trigger dispatch and retry sweeps manually. Commands operate on the shared
// SQLite database, so they work with or without a running daemon.
package main
