package process

import (
	"fmt"
	"reflect"
	"testing"
)

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)

	_, _ = fmt.Fprintf(r, "line1\n")
	_, _ = fmt.Fprintf(r, "line2\n")
	if got := r.LastN(10); !reflect.DeepEqual(got, []string{"line1", "line2"}) {
		t.Fatalf("got %v", got)
	}

	_, _ = fmt.Fprintf(r, "line3\n")
	_, _ = fmt.Fprintf(r, "line4\n")
	if got := r.LastN(10); !reflect.DeepEqual(got, []string{"line2", "line3", "line4"}) {
		t.Fatalf("wrap: got %v", got)
	}
	if got := r.LastN(2); !reflect.DeepEqual(got, []string{"line3", "line4"}) {
		t.Fatalf("LastN(2): got %v", got)
	}
}

func TestLineRing_PartialWrites(t *testing.T) {
	r := NewLineRing(5)
	_, _ = r.Write([]byte("[avfoundation @ 0x1] Sel"))
	_, _ = r.Write([]byte("ected framerate not supported\r\nnext"))

	want := []string{"[avfoundation @ 0x1] Selected framerate not supported", "next"}
	if got := r.LastN(0); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if r.String() != want[0]+"\n"+want[1] {
		t.Fatalf("String() = %q", r.String())
	}
}
