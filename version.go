// Package checkengine is a generic check orchestration engine: declare
// checks and conditions in a spec, then run them over concrete values as a
// strictly nested event stream.
//
// The engine lives in the pkg/ packages; this package only carries the
// release version that declarative documents are constrained against.
package checkengine

// Version is the engine release. Declarative spec documents may constrain it
// with a semver range in their "requires" field.
const Version = "1.4.0"
