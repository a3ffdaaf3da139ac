package ids

import (
	"sort"
	"testing"
	"time"
)

func TestNewIsMonotonic(t *testing.T) {
	at := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
	var got []string
	for i := 0; i < 100; i++ {
		got = append(got, NewAt(at))
	}
	if !sort.StringsAreSorted(got) {
		t.Fatalf("ids generated within one millisecond are not sorted")
	}
}
