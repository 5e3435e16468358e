package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_PrintfGrowsPastInitialAllocation(t *testing.T) {
	buf := NewBuffer(1)
	for i := 0; i < 100; i++ {
		buf.Printf("x")
	}
	require.Equal(t, 100, buf.Size())
}

func TestBuffer_AddNULAppendsSingleZeroByte(t *testing.T) {
	buf := NewBuffer(8)
	buf.WriteString("hi")
	buf.AddNUL()
	data := buf.Steal()
	assert.Equal(t, []byte("hi\x00"), data)
}

func TestBuffer_StealResetsBuffer(t *testing.T) {
	buf := NewBuffer(8)
	buf.WriteString("abc")
	data := buf.Steal()
	assert.Equal(t, "abc", string(data))
	assert.Equal(t, 0, buf.Size())
}
