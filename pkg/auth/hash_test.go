package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Reference vectors for the signed-hex digest.
var serverHashCases = map[string]string{
	"Notch": "4ed1f46bbe04bc756bcb17c0c7ce3e4632f06a48",
	"jeb_":  "-7c9d5b0044c130109a5d7b5fb5c317c02b4e28c1",
	"simon": "88e16a1019277b15d58faf0541e11910eb756f6",
}

func TestServerHashReferenceVectors(t *testing.T) {
	for input, want := range serverHashCases {
		assert.Equal(t, want, ServerHash(input, nil, nil), "input %q", input)
	}
}

func TestServerHashConcatenation(t *testing.T) {
	// serverID, secret and key are hashed as one stream: splitting the same
	// bytes differently must give the same digest.
	a := ServerHash("ab", []byte("cd"), []byte("ef"))
	b := ServerHash("abcd", nil, []byte("ef"))
	c := ServerHash("", []byte("abcdef"), nil)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}
