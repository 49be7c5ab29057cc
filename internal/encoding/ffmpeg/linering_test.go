// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRing_KeepsNewest(t *testing.T) {
	r := NewLineRing(3)
	for i := 1; i <= 5; i++ {
		_, _ = fmt.Fprintf(r, "line %d\n", i)
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.LastN(10))
	assert.Equal(t, []string{"line 5"}, r.LastN(1))
	assert.Nil(t, r.LastN(0))
}

func TestLineRing_ReassemblesSplitWrites(t *testing.T) {
	r := NewLineRing(10)
	_, _ = r.Write([]byte("Input #0, mov"))
	_, _ = r.Write([]byte(",mp4\nframe=  10\rframe=  20\r"))
	_, _ = r.Write([]byte("tail without newline"))

	assert.Equal(t, []string{"Input #0, mov,mp4", "frame=  10", "frame=  20"}, r.LastN(10))
	r.Flush()
	assert.Equal(t, "tail without newline", r.LastN(1)[0])
}

func TestLineRing_SkipsBlankLines(t *testing.T) {
	r := NewLineRing(4)
	_, _ = r.Write([]byte("\n\n  \r\nok\n"))
	assert.Equal(t, []string{"ok"}, r.LastN(4))
}

func TestLineRing_DefaultCapacity(t *testing.T) {
	r := NewLineRing(0)
	for i := 0; i < 60; i++ {
		_, _ = fmt.Fprintf(r, "%d\n", i)
	}
	got := r.LastN(100)
	assert.Len(t, got, 50)
	assert.Equal(t, "10", got[0])
}

func TestLineRing_ConcurrentWrites(t *testing.T) {
	r := NewLineRing(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = fmt.Fprintf(r, "g%d-%d\n", g, i)
			}
		}(g)
	}
	wg.Wait()
	assert.Len(t, r.LastN(16), 16)
}
