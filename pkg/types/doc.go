/*
Package types defines the data structures shared across dnsrest.

# Container

Container is the snapshot the lifecycle source hands to the registry:

	types.Container{
		ID:      "3f9a0c...",
		Name:    "web",
		Running: true,
		Addr:    "10.0.0.5",
	}

Snapshots are values and are never mutated after creation. The registry keeps
the most recent one per container ID while the container is active.

# Mapping Keys

Every mapping and every trie entry is owned by a key of the form
<kind>:/<arg>:

	name:/web              container named "web"
	id:/3f9a0c...          container with that ID
	domain:/db.internal    static domain entered by an operator

The same string doubles as the tag on trie entries, so retracting a mapping
removes exactly the entries it contributed. NameKey, IDKey and DomainKey build
keys; ParseKey validates them at the API boundary.
*/
package types
