package store_test

import (
	"testing"

	"github.com/n0ot/teamchat/pkg/store"
	"github.com/n0ot/teamchat/pkg/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{
		-1:                 store.DefaultLimit,
		0:                  store.DefaultLimit,
		1:                  1,
		store.MaxLimit:     store.MaxLimit,
		store.MaxLimit + 1: store.MaxLimit,
	}
	for in, want := range tests {
		if got := store.ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d): wanted %d, got %d", in, want, got)
		}
	}
}
