package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPhone(t *testing.T) {
	h1 := HashPhone("+34 600 111 222")
	h2 := HashPhone("34600111222")
	h3 := HashPhone("34600111333")

	assert.Equal(t, h1, h2, "formatting must not change the hash")
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64, "SHA-256 hex should be 64 chars")
}
