//go:build linux

package ioloop

import "testing"

func pollerTable(t *testing.T, p Poller) *fdTable {
	t.Helper()
	switch p := p.(type) {
	case *epollPoller:
		return &p.table
	case *pollPoller:
		return &p.table
	}
	t.Fatalf("unexpected poller %T", p)
	return nil
}
