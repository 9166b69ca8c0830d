package trie

import (
	"reflect"
	"testing"
)

func TestInsertAndSearch(t *testing.T) {
	tr := NewTrie()
	keys := []string{"app", "apple", "banana", "apple"}
	for _, k := range keys {
		tr.Insert(k)
	}

	if tr.Len() != 3 {
		t.Fatalf("Len() = %d; want 3", tr.Len())
	}

	t.Run("SearchPrefix 'app'", func(t *testing.T) {
		got := tr.SearchPrefix("app", 5)
		exp := []string{"app", "apple"}
		if !reflect.DeepEqual(got, exp) {
			t.Errorf("SearchPrefix(\"app\") = %v; want %v", got, exp)
		}
	})

	t.Run("SearchPrefix 'ban'", func(t *testing.T) {
		got := tr.SearchPrefix("ban", 5)
		exp := []string{"banana"}
		if !reflect.DeepEqual(got, exp) {
			t.Errorf("SearchPrefix(\"ban\") = %v; want %v", got, exp)
		}
	})

	t.Run("Search non-existent prefix", func(t *testing.T) {
		if got := tr.SearchPrefix("xyz", 5); got != nil {
			t.Errorf("SearchPrefix(\"xyz\") = %v; want nil", got)
		}
	})

	t.Run("Insert reports duplicates", func(t *testing.T) {
		if tr.Insert("banana") {
			t.Errorf("Insert(\"banana\") = true for an existing key")
		}
	})
}

func TestSearchPrefixOrderIndependentOfInsertOrder(t *testing.T) {
	a, b := NewTrie(), NewTrie()
	keys := []string{"appced", "app", "appfe", "apple", "appl", "appf", "appc", "appce", "appde"}
	for _, k := range keys {
		a.Insert(k)
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b.Insert(keys[i])
	}

	exp := []string{"app", "appc", "appf", "appl", "appce"}
	for name, tr := range map[string]*Trie{"forward": a, "reverse": b} {
		got := tr.SearchPrefix("app", 5)
		if !reflect.DeepEqual(got, exp) {
			t.Errorf("%s: SearchPrefix(\"app\", 5) = %v; want %v", name, got, exp)
		}
	}

	if got := a.SearchPrefix("app", 0); len(got) != len(keys) {
		t.Errorf("unlimited SearchPrefix returned %d keys; want %d", len(got), len(keys))
	}
}

func TestRemove(t *testing.T) {
	tr := NewTrie()
	keys := []string{"app", "apple", "appol"}
	for _, k := range keys {
		tr.Insert(k)
	}

	t.Run("Remove existing leaf 'apple'", func(t *testing.T) {
		if err := tr.Remove("apple"); err != nil {
			t.Fatalf("Remove(\"apple\") error: %v", err)
		}
		got := tr.SearchPrefix("app", 5)
		exp := []string{"app", "appol"}
		if !reflect.DeepEqual(got, exp) {
			t.Errorf("After Remove apple, SearchPrefix(\"app\") = %v; want %v", got, exp)
		}
	})

	t.Run("Remove existing prefix 'app'", func(t *testing.T) {
		if err := tr.Remove("app"); err != nil {
			t.Fatalf("Remove(\"app\") error: %v", err)
		}
		if tr.Has("app") {
			t.Errorf("Has(\"app\") = true after removal")
		}
		if !tr.Has("appol") {
			t.Errorf("Has(\"appol\") = false; removing a prefix must keep longer keys")
		}
	})

	t.Run("Remove last key prunes the tree", func(t *testing.T) {
		if err := tr.Remove("appol"); err != nil {
			t.Fatalf("Remove(\"appol\") error: %v", err)
		}
		if len(tr.Root.Children) != 0 || tr.Len() != 0 {
			t.Errorf("root still has %d children, Len() = %d", len(tr.Root.Children), tr.Len())
		}
	})

	t.Run("Remove non-existent key", func(t *testing.T) {
		if err := tr.Remove("nonexistent"); err == nil {
			t.Errorf("Remove(\"nonexistent\") = nil; want error")
		}
	})
}

func TestUnicodeKeys(t *testing.T) {
	tr := NewTrie()
	tr.Insert("über")
	tr.Insert("übung")
	tr.Insert("uber")

	got := tr.SearchPrefix("üb", 0)
	exp := []string{"über", "übung"}
	if !reflect.DeepEqual(got, exp) {
		t.Errorf("SearchPrefix(\"üb\") = %v; want %v", got, exp)
	}
}
