//go:build darwin

package ioloop

import "testing"

func pollerTable(t *testing.T, p Poller) *fdTable {
	t.Helper()
	if p, ok := p.(*pollPoller); ok {
		return &p.table
	}
	t.Fatalf("unexpected poller %T", p)
	return nil
}
