package actor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildPathsAreUnique(t *testing.T) {
	parent := Root().NewChild("parent")

	first := parent.NewChild("worker")
	second := parent.NewChild("worker")

	assert.NotEqual(t, first.String(), second.String())
	assert.Contains(t, first.String(), parent.String()+"/worker")
}

func TestNewChildNoArgs(t *testing.T) {
	d := Root().NewChild("a")
	assert.Same(t, d, d.NewChild())
}

func TestSpawnJoinsWaitGroup(t *testing.T) {
	var wg sync.WaitGroup
	ranCh := make(chan struct{})

	Spawn(Root().NewChild("spawned"), &wg, func() { close(ranCh) })
	wg.Wait()

	select {
	case <-ranCh:
	default:
		t.Fatal("spawned function did not run")
	}
	require.NotPanics(t, func() { Spawn(Root().NewChild("nil_wg"), nil, func() {}) })
}
