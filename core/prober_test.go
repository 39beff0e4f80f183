package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProber struct {
	name string
	conf Confidence
}

func (p fakeProber) Name() string { return p.name }
func (p fakeProber) TestImage(ChunkSource) (Confidence, error) { return p.conf, nil }

func TestDetectSortsByConfidenceDescending(t *testing.T) {
	probers := []Prober{
		fakeProber{name: "cpm", conf: Maybe},
		fakeProber{name: "prodos", conf: Yes},
		fakeProber{name: "dos33", conf: No},
		fakeProber{name: "pascal", conf: Good},
	}
	results, err := Detect(newMemChunkSource(4), probers)
	assert.NoError(t, err)
	assert.Equal(t, "prodos", results[0].Driver)
	assert.Equal(t, "pascal", results[1].Driver)
	assert.Equal(t, "cpm", results[2].Driver)
	assert.Equal(t, "dos33", results[3].Driver)
}
