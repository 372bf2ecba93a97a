package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vectra/metadata"
)

func TestParseVector(t *testing.T) {
	values, err := parseVector("1,2.5, 3")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2.5, 3}, values)

	_, err = parseVector("1,x,3")
	assert.Error(t, err)

	_, err = parseVector("")
	assert.Error(t, err)
}

func TestParseMetadataPairs(t *testing.T) {
	meta, err := parseMetadataPairs([]string{"source=s1", "active=true", "note=a=b"})
	require.NoError(t, err)

	assert.Equal(t, metadata.String("s1"), meta["source"])
	assert.Equal(t, metadata.Bool(true), meta["active"])
	assert.Equal(t, metadata.String("a=b"), meta["note"])

	_, err = parseMetadataPairs([]string{"nokey"})
	assert.Error(t, err)

	meta, err = parseMetadataPairs(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)
}
