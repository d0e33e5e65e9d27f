// Package engine is the composition root that assembles the gateway from
// configuration: templates, schemas, tools, models with their providers, and
// functions with their variants. Frontends (CLI, HTTP server) talk to Engine
// and observe activity through an EventBus; they never wire lower-level
// packages themselves.
package engine
