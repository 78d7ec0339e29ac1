package gantryd

import (
	"io"
	"strings"
	"testing"
)

func TestReadSSE(t *testing.T) {
	r := strings.NewReader("{\"state\":\"idle\"}\n\n{\"state\":\"moving\"}\n\n")

	event, err := ReadSSE(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(event) != `{"state":"idle"}` {
		t.Errorf("first event %q", event)
	}

	event, err = ReadSSE(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(event) != `{"state":"moving"}` {
		t.Errorf("second event %q", event)
	}

	if _, err = ReadSSE(r); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
}
