package trie

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	host1 = "www.foo.com"
	wild1 = "*.foo.com"
	addr1 = "1.2.3.4"
	addr2 = "6.7.8.9"
	tag1  = "name:/foo1"
	tag2  = "name:/foo2"
)

func TestTagging(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(host1, addr1, tag1))

	assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}}, n.Get(host1))
}

func TestMultipleAddresses(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(host1, addr1, tag1))
	require.NoError(t, n.Put(host1, addr2, tag2))

	res := n.Get(host1)
	require.Len(t, res, 2)
	assert.Equal(t, Entry{Addr: addr1, Tag: tag1}, res[0])
	assert.Equal(t, Entry{Addr: addr2, Tag: tag2}, res[1])

	removed := n.Remove(host1, tag1)
	assert.Equal(t, []string{addr1}, removed)
	assert.Equal(t, []Entry{{Addr: addr2, Tag: tag2}}, n.Get(host1))
}

func TestMultipleWildcards(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(wild1, addr1, tag1))
	require.NoError(t, n.Put(wild1, addr2, tag2))

	res := n.Get("xyz.foo.com")
	require.Len(t, res, 2)
	assert.Equal(t, Entry{Addr: addr1, Tag: tag1}, res[0])
	assert.Equal(t, Entry{Addr: addr2, Tag: tag2}, res[1])

	assert.Equal(t, []string{addr2}, n.Remove(wild1, tag2))
	assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}}, n.Get("abc.foo.com"))

	assert.Equal(t, []string{addr1}, n.Remove(wild1, tag1))
	assert.Nil(t, n.Get("abc.foo.com"))
	assert.Equal(t, 0, len(n.children), "tree should be pruned to the root")
}

func TestWildcardDoesNotMatchParent(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(wild1, addr1, tag1))

	assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}}, n.Get("anything.foo.com"))
	assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}}, n.Get("deep.anything.foo.com"))
	assert.Nil(t, n.Get("foo.com"))
	assert.Nil(t, n.Get("bar.com"))
}

func TestWildcardIsNotRotated(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(wild1, addr1, tag1))
	require.NoError(t, n.Put(wild1, addr2, tag2))

	for i := 0; i < 3; i++ {
		res := n.Get("x.foo.com")
		require.Len(t, res, 2)
		assert.Equal(t, addr1, res[0].Addr)
	}
}

func TestLiteralPreferredOverWildcard(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(wild1, addr1, tag1))
	require.NoError(t, n.Put(host1, addr2, tag2))

	assert.Equal(t, []Entry{{Addr: addr2, Tag: tag2}}, n.Get(host1))
	assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}}, n.Get("mail.foo.com"))

	// An interior literal node without entries falls back to the wildcard
	require.NoError(t, n.Put("a.b.foo.com", addr2, tag2))
	assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}}, n.Get("b.foo.com"))
}

func TestRoundRobin(t *testing.T) {
	n := New()
	require.NoError(t, n.Put("svc.example.com", "10.0.0.1", "a"))
	require.NoError(t, n.Put("svc.example.com", "10.0.0.2", "b"))
	require.NoError(t, n.Put("svc.example.com", "10.0.0.3", "c"))

	firsts := []string{}
	for i := 0; i < 4; i++ {
		res := n.Get("svc.example.com")
		require.Len(t, res, 3)
		firsts = append(firsts, res[0].Addr)
	}

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.1"}, firsts)
}

func TestCaseInsensitive(t *testing.T) {
	n := New()
	require.NoError(t, n.Put("App.Example.COM.", addr1, tag1))

	assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}}, n.Get("app.example.com"))
	assert.Equal(t, []string{addr1}, n.Remove("APP.example.com", tag1))
}

func TestRemovePrunesChain(t *testing.T) {
	n := New()
	require.NoError(t, n.Put("a.b.c.d.example.com", addr1, tag1))
	require.NoError(t, n.Put("example.com", addr2, tag2))

	removed := n.Remove("a.b.c.d.example.com", tag1)
	assert.Equal(t, []string{addr1}, removed, "removed set must survive every recursion frame")

	com := n.children["com"]
	require.NotNil(t, com)
	example := com.children["example"]
	require.NotNil(t, example)
	assert.Empty(t, example.children)
	assert.Equal(t, []Entry{{Addr: addr2, Tag: tag2}}, example.entries)
}

func TestRemoveWithoutTagRemovesAll(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(host1, addr1, tag1))
	require.NoError(t, n.Put(host1, addr2, tag2))
	require.NoError(t, n.Put(host1, addr1, tag2))

	assert.Equal(t, []string{addr1, addr2}, n.Remove(host1, ""))
	assert.Nil(t, n.Get(host1))
	assert.Equal(t, 0, n.Len())
}

func TestRemoveMissing(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(host1, addr1, tag1))

	assert.Nil(t, n.Remove("nope.foo.com", tag1))
	assert.Nil(t, n.Remove(host1, tag2))
	assert.Nil(t, n.Remove("*.bar.com", tag1))
	assert.Equal(t, 1, n.Len())
}

func TestPutInvalidName(t *testing.T) {
	n := New()

	tests := []string{"", ".", "a..b"}
	for _, name := range tests {
		t.Run(fmt.Sprintf("%q", name), func(t *testing.T) {
			err := n.Put(name, addr1, tag1)
			assert.ErrorIs(t, err, ErrInvalidName)
			assert.Nil(t, n.Get(name))
		})
	}
}

func TestToDict(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(host1, addr1, tag1))
	require.NoError(t, n.Put(wild1, addr2, tag2))

	d := n.ToDict()
	com := d["com"].(map[string]any)
	foo := com["foo"].(map[string]any)
	www := foo["www"].(map[string]any)

	assert.Equal(t, 1, foo[":wild"])
	assert.Equal(t, [][2]string{{addr2, tag2}}, foo[":wildaddr"])
	assert.Equal(t, 0, www[":wild"])
	assert.Equal(t, [][2]string{{addr1, tag1}}, www[":addr"])
}

// labelGen draws short labels so generated names collide often
var labelGen = rapid.SampledFrom([]string{"a", "b", "c", "www", "api"})

func nameGen() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		labels := rapid.SliceOfN(labelGen, 1, 4).Draw(t, "labels")
		name := "example"
		for _, l := range labels {
			name = l + "." + name
		}
		return name
	})
}

func TestPropertyRoundRobin(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := New()
		name := nameGen().Draw(rt, "name")
		k := rapid.IntRange(1, 8).Draw(rt, "k")

		for i := 0; i < k; i++ {
			if err := n.Put(name, fmt.Sprintf("10.0.0.%d", i), fmt.Sprintf("tag%d", i)); err != nil {
				rt.Fatalf("put: %v", err)
			}
		}

		first := n.Get(name)
		seen := map[string]bool{first[0].Addr: true}
		for i := 1; i < k; i++ {
			res := n.Get(name)
			if len(res) != k {
				rt.Fatalf("got %d entries, want %d", len(res), k)
			}
			seen[res[0].Addr] = true
		}
		if len(seen) != k {
			rt.Fatalf("%d distinct first addresses over %d calls, want %d", len(seen), k, k)
		}

		again := n.Get(name)
		if fmt.Sprint(again) != fmt.Sprint(first) {
			rt.Fatalf("call k+1 = %v, want %v", again, first)
		}
	})
}

func TestPropertyTaggedIsolation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := New()
		name := nameGen().Draw(rt, "name")
		tAddrs := rapid.SliceOfNDistinct(rapid.IntRange(1, 100), 1, 5, rapid.ID[int]).Draw(rt, "t")
		uAddrs := rapid.SliceOfNDistinct(rapid.IntRange(101, 200), 1, 5, rapid.ID[int]).Draw(rt, "u")

		for _, a := range tAddrs {
			_ = n.Put(name, fmt.Sprintf("10.1.0.%d", a), "T")
		}
		for _, a := range uAddrs {
			_ = n.Put(name, fmt.Sprintf("10.2.0.%d", a), "U")
		}

		removed := n.Remove(name, "T")
		if len(removed) != len(tAddrs) {
			rt.Fatalf("removed %d addresses, want %d", len(removed), len(tAddrs))
		}

		res := n.Get(name)
		if len(res) != len(uAddrs) {
			rt.Fatalf("got %d entries after removal, want %d", len(res), len(uAddrs))
		}
		for _, e := range res {
			if e.Tag != "U" {
				rt.Fatalf("entry %v survived removal of tag T", e)
			}
		}
	})
}

func TestPropertyPruning(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := New()
		names := rapid.SliceOfN(nameGen(), 1, 10).Draw(rt, "names")

		for i, name := range names {
			_ = n.Put(name, fmt.Sprintf("10.0.0.%d", i), "tag")
		}
		for _, name := range names {
			n.Remove(name, "tag")
		}

		if n.Len() != 0 {
			rt.Fatalf("tree still holds %d entries", n.Len())
		}
		if len(n.children) != 0 {
			rt.Fatalf("residual nodes below root: %v", n.ToDict())
		}
	})
}

func TestPeekDoesNotRotate(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(host1, addr1, tag1))
	require.NoError(t, n.Put(host1, addr2, tag2))
	require.NoError(t, n.Put(wild1, addr2, tag2))

	for i := 0; i < 3; i++ {
		assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}, {Addr: addr2, Tag: tag2}}, n.Peek(host1))
	}
	assert.Equal(t, addr1, n.Get(host1)[0].Addr)
	assert.Nil(t, n.Peek("other.foo.com"))
	assert.Empty(t, n.Peek("foo.com"))
}

func TestPeekWildcard(t *testing.T) {
	n := New()
	require.NoError(t, n.Put(wild1, addr1, tag1))
	require.NoError(t, n.Put(host1, addr2, tag2))

	assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}}, n.Peek("*.FOO.com."))
	assert.Equal(t, []Entry{{Addr: addr2, Tag: tag2}}, n.Peek(host1))
	assert.Empty(t, n.Peek("foo.com"))
	assert.Nil(t, n.Peek("*.bar.com"))
}

func TestPutDuplicateEntry(t *testing.T) {
	tests := []struct {
		name string
		host string
	}{
		{name: "literal", host: host1},
		{name: "wildcard", host: wild1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New()
			require.NoError(t, n.Put(tt.host, addr1, tag1))
			require.NoError(t, n.Put(tt.host, addr1, tag1))
			require.NoError(t, n.Put(tt.host, addr1, tag2))

			assert.Equal(t, 2, n.Len())
			assert.Equal(t, []Entry{{Addr: addr1, Tag: tag1}, {Addr: addr1, Tag: tag2}}, n.Peek(tt.host))
		})
	}
}
