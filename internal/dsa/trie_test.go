package dsa

import (
	"reflect"
	"testing"
)

func TestTrie(t *testing.T) {
	tr := NewTrie[int]()
	tr.Insert("pkg/", 1)
	tr.Insert("pkg/util.go", 2)
	tr.Insert("cmd/main.go", 3)

	if v, ok := tr.Search("pkg/util.go"); !ok || v != 2 {
		t.Errorf("Search() = %d, %v", v, ok)
	}
	if _, ok := tr.Search("pkg"); ok {
		t.Error("Search should be exact")
	}

	var seen []string
	tr.PrefixesOf("pkg/util.go", func(k string, _ int) { seen = append(seen, k) })
	if want := []string{"pkg/", "pkg/util.go"}; !reflect.DeepEqual(seen, want) {
		t.Errorf("PrefixesOf() = %v, want %v", seen, want)
	}

	if got := tr.StartsWith("pkg"); !reflect.DeepEqual(got, []string{"pkg/", "pkg/util.go"}) {
		t.Errorf("StartsWith() = %v", got)
	}

	tr.Insert("pkg/", 4)
	if v, _ := tr.Search("pkg/"); v != 4 || tr.Len() != 3 {
		t.Errorf("Insert should replace: got %d, Len() = %d", v, tr.Len())
	}

	tr.Clear()
	if tr.Len() != 0 {
		t.Errorf("Len() after Clear = %d", tr.Len())
	}
}
