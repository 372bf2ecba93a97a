package metadata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 14, 15, 9, 26, 535_000_000, time.UTC)

	doc := Document{
		"count":   Int(-42),
		"weight":  Float(3.25),
		"active":  Bool(true),
		"created": DateTime(ts),
		"source":  String("s1"),
		"empty":   String(""),
	}

	data, err := doc.MarshalBinary()
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, decoded.UnmarshalBinary(data))
	require.Len(t, decoded, len(doc))

	for k, want := range doc {
		got, ok := decoded[k]
		require.True(t, ok, "missing key %q", k)
		assert.True(t, want.Equal(got), "key %q: want %#v, got %#v", k, want, got)
	}
}

func TestBinaryRoundTripEmpty(t *testing.T) {
	data, err := Document{}.MarshalBinary()
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Empty(t, decoded)
}

func TestUnmarshalBinaryTruncated(t *testing.T) {
	doc := Document{"source": String("somewhere")}
	data, err := doc.MarshalBinary()
	require.NoError(t, err)

	for cut := 1; cut < len(data); cut++ {
		var decoded Document
		if err := decoded.UnmarshalBinary(data[:cut]); err == nil {
			t.Fatalf("expected error for truncation at %d bytes", cut)
		}
	}
}

func TestInferString(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"2024-03-14T15:09:26Z", DateTime(time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC))},
		{"hello", String("hello")},
		{"1", String("1")}, // bare digits stay strings outside import coercion
	}
	for _, tt := range tests {
		got := InferString(tt.in)
		assert.True(t, tt.want.Equal(got), "InferString(%q) = %#v, want %#v", tt.in, got, tt.want)
	}
}

func TestValueJSON(t *testing.T) {
	doc := Document{
		"count":  Int(7),
		"ratio":  Float(0.5),
		"active": Bool(true),
		"name":   String("abc"),
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, json.Unmarshal(data, &decoded))

	for k, want := range doc {
		assert.True(t, want.Equal(decoded[k]), "key %q", k)
	}
}

func TestSchemaObserve(t *testing.T) {
	s := make(Schema)
	s.Observe(Document{"source": String("a"), "n": Int(1)})
	s.Observe(Document{"source": String("b"), "n": Float(1.5)})
	s.Observe(Document{"source": String("c")})

	assert.Equal(t, []Kind{KindString}, s.Kinds("source"))
	assert.ElementsMatch(t, []Kind{KindInt, KindFloat}, s.Kinds("n"))
	assert.Nil(t, s.Kinds("missing"))

	names := s.Strings()
	assert.Equal(t, []string{"String"}, names["source"])
}

func TestFromAnyMap(t *testing.T) {
	doc, err := FromAnyMap(map[string]any{
		"year":  float64(2024),
		"score": 1.25,
		"ok":    true,
		"tag":   "x",
	})
	require.NoError(t, err)

	assert.True(t, Int(2024).Equal(doc["year"]))
	assert.True(t, Float(1.25).Equal(doc["score"]))
	assert.True(t, Bool(true).Equal(doc["ok"]))
	assert.True(t, String("x").Equal(doc["tag"]))
}
