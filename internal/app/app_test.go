package app

import "testing"

func TestClose_EmptyAppIsSafe(t *testing.T) {
	a := &App{}
	if err := a.Close(); err != nil {
		t.Errorf("Close() on empty app: %v", err)
	}
}
