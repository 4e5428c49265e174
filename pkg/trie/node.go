package trie

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Wildcard is the reserved leftmost label matching names below its parent
const Wildcard = "*"

// ErrInvalidName is returned when a name cannot be split into labels
var ErrInvalidName = errors.New("invalid domain name")

// Entry is an address contributed to a name by the owner identified by Tag
type Entry struct {
	Addr string
	Tag  string
}

// Node is one vertex of a domain tree keyed from the TLD downward.
// Node is not safe for concurrent use; the registry serializes access.
type Node struct {
	children map[string]*Node
	entries  []Entry // literal entries for the name ending at this node
	wild     []Entry // entries for "*.<name ending at this node>"
	cursor   int     // round-robin position into entries
}

// New returns an empty root node
func New() *Node {
	return &Node{children: make(map[string]*Node)}
}

// Put adds addr under name, tagged with tag. A leading "*" label registers a
// wildcard for the names below the remaining labels. Putting an identical
// (addr, tag) pair twice is a no-op.
func (n *Node) Put(name, addr, tag string) error {
	labels, err := splitLabels(name)
	if err != nil {
		return err
	}
	n.put(labels, Entry{Addr: addr, Tag: tag})
	return nil
}

// Get returns the entries for name. An exact match is rotated by one
// position per call; a wildcard match is returned in insertion order.
// Nil means not found.
func (n *Node) Get(name string) []Entry {
	labels, err := splitLabels(name)
	if err != nil {
		return nil
	}
	return n.get(labels)
}

// Remove drops the entries under name owned by tag (every entry when tag is
// empty) and returns the distinct addresses removed. Nodes left empty are
// pruned.
func (n *Node) Remove(name, tag string) []string {
	labels, err := splitLabels(name)
	if err != nil {
		return nil
	}
	return n.remove(labels, tag)
}

// Peek returns the entries stored exactly at name without advancing the
// rotation. A literal name never falls back to a wildcard; "*.<name>" reads
// the wildcard entries registered under name.
func (n *Node) Peek(name string) []Entry {
	labels, err := splitLabels(name)
	if err != nil {
		return nil
	}

	wild := labels[0] == Wildcard
	if wild {
		labels = labels[1:]
	}

	cur := n
	for i := len(labels) - 1; i >= 0; i-- {
		child, ok := cur.children[labels[i]]
		if !ok {
			return nil
		}
		cur = child
	}

	if wild {
		return append([]Entry(nil), cur.wild...)
	}
	return append([]Entry(nil), cur.entries...)
}

// Len returns the number of entries stored in the tree
func (n *Node) Len() int {
	total := len(n.entries) + len(n.wild)
	for _, child := range n.children {
		total += child.Len()
	}
	return total
}

// ToDict exports the tree as nested maps for diagnostics. Each level carries
// ":addr" and ":wildaddr" as [addr, tag] pairs and ":wild" as 0 or 1.
func (n *Node) ToDict() map[string]any {
	wild := 0
	if len(n.wild) > 0 {
		wild = 1
	}

	d := map[string]any{
		":addr":     pairs(n.entries),
		":wild":     wild,
		":wildaddr": pairs(n.wild),
	}
	for label, child := range n.children {
		d[label] = child.ToDict()
	}
	return d
}

func (n *Node) put(labels []string, e Entry) {
	part, rest := labels[len(labels)-1], labels[:len(labels)-1]

	if len(rest) == 0 && part == Wildcard {
		n.wild = appendEntry(n.wild, e)
		return
	}

	child, ok := n.children[part]
	if !ok {
		child = New()
		n.children[part] = child
	}

	if len(rest) == 0 {
		child.entries = appendEntry(child.entries, e)
		return
	}
	child.put(rest, e)
}

func appendEntry(entries []Entry, e Entry) []Entry {
	for _, cur := range entries {
		if cur == e {
			return entries
		}
	}
	return append(entries, e)
}

func (n *Node) get(labels []string) []Entry {
	if len(labels) == 0 {
		return n.rotate()
	}

	part, rest := labels[len(labels)-1], labels[:len(labels)-1]
	if child, ok := n.children[part]; ok {
		if res := child.get(rest); len(res) > 0 {
			return res
		}
	}

	if len(n.wild) > 0 {
		return append([]Entry(nil), n.wild...)
	}
	return nil
}

// rotate returns entries starting at the cursor and advances it
func (n *Node) rotate() []Entry {
	if len(n.entries) == 0 {
		return nil
	}

	i := n.cursor % len(n.entries)
	res := make([]Entry, 0, len(n.entries))
	res = append(res, n.entries[i:]...)
	res = append(res, n.entries[:i]...)
	n.cursor = (i + 1) % len(n.entries)
	return res
}

func (n *Node) remove(labels []string, tag string) []string {
	part, rest := labels[len(labels)-1], labels[:len(labels)-1]

	if len(rest) == 0 && part == Wildcard {
		var removed []string
		n.wild, removed = filterTag(n.wild, tag)
		return removed
	}

	child, ok := n.children[part]
	if !ok {
		return nil
	}

	var removed []string
	if len(rest) == 0 {
		child.entries, removed = filterTag(child.entries, tag)
		if child.cursor >= len(child.entries) {
			child.cursor = 0
		}
	} else {
		removed = child.remove(rest, tag)
	}

	if child.isEmpty() {
		delete(n.children, part)
	}
	return removed
}

func (n *Node) isEmpty() bool {
	return len(n.children) == 0 && len(n.entries) == 0 && len(n.wild) == 0
}

// filterTag splits entries into those kept and the distinct addresses removed
func filterTag(entries []Entry, tag string) ([]Entry, []string) {
	var kept []Entry
	var removed []string
	seen := make(map[string]bool)

	for _, e := range entries {
		if tag != "" && e.Tag != tag {
			kept = append(kept, e)
			continue
		}
		if !seen[e.Addr] {
			seen[e.Addr] = true
			removed = append(removed, e.Addr)
		}
	}
	return kept, removed
}

func pairs(entries []Entry) [][2]string {
	res := make([][2]string, 0, len(entries))
	for _, e := range entries {
		res = append(res, [2]string{e.Addr, e.Tag})
	}
	return res
}

// splitLabels lower-cases name and returns its labels, leftmost first
func splitLabels(name string) ([]string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	labels := dns.SplitDomainName(name)
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return labels, nil
}
