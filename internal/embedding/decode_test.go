package embedding

import (
	"errors"
	"testing"
)

func TestDecode_KnownEnvelopes(t *testing.T) {
	cases := map[string]struct {
		body string
		want int
	}{
		"bare matrix":       {`[[0.1,0.2],[0.3,0.4]]`, 2},
		"bare vector":       {`[0.1,0.2,0.3]`, 1},
		"object list":       {`[{"embedding":[1,2]},{"embedding":[3,4]}]`, 2},
		"embedding vector":  {`{"embedding":[1,2,3]}`, 1},
		"embedding matrix":  {`{"embedding":[[1,2],[3,4],[5,6]]}`, 3},
		"embeddings matrix": {`{"embeddings":[[1,2],[3,4]]}`, 2},
		"openai data":       {`{"data":[{"embedding":[1,2]},{"embedding":[3,4]}]}`, 2},
		"whitespace":        {"\n  [[1,2]]", 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Decode([]byte(tc.body))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("got %d vectors, want %d", len(got), tc.want)
			}
		})
	}
}

func TestDecode_PreservesValues(t *testing.T) {
	got, err := Decode([]byte(`{"data":[{"embedding":[0.5,-1]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0] != 0.5 || got[0][1] != -1 {
		t.Errorf("got %v", got)
	}
}

func TestDecode_UnknownShapesFailClosed(t *testing.T) {
	for _, body := range []string{
		``,
		`"hello"`,
		`{"error":"model loading"}`,
		`[[[0.1,0.2]]]`,
		`[{"vector":[1,2]}]`,
		`{"data":[{"text":"x"}]}`,
		`{"embedding":"abc"}`,
	} {
		if _, err := Decode([]byte(body)); !errors.Is(err, ErrUnrecognizedShape) {
			t.Errorf("Decode(%q) err = %v, want ErrUnrecognizedShape", body, err)
		}
	}
}
