// Package trie implements the domain tree behind name resolution.
//
// Names are stored label by label from the top-level domain down. Each name
// holds a list of tagged addresses; a "*" entry on a node answers for any
// name beneath it that has no literal match, but never for the node's own
// name.
// Literal matches always win over wildcards. Lookups of a literal name rotate
// its addresses round-robin, and removal by tag prunes nodes left empty.
//
// Node is not safe for concurrent use; the registry serializes access.
package trie
