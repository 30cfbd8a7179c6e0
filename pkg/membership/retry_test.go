package membership

import (
	"context"
	"reflect"
	"testing"
)

func TestRetryQueue(t *testing.T) {
	mutations := inserts("g1", "a@example.com", "b@example.com", "a@example.com")

	q := newRetryQueue()
	q.push(2, mutations[2])
	q.push(0, mutations[0])
	q.push(2, mutations[2])

	if q.len() != 2 {
		t.Fatalf("len() = %d, want 2", q.len())
	}

	client := newFakeClient().answer("a@example.com", errInternal())

	var indexes []int
	var failed int
	q.drain(context.Background(), client, func(p pendingRetry, err error) {
		indexes = append(indexes, p.index)
		if err != nil {
			failed++
		}
	})

	if !reflect.DeepEqual(indexes, []int{2, 0}) {
		t.Errorf("drained indexes = %v, want [2 0]", indexes)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if q.len() != 0 {
		t.Errorf("len() after drain = %d, want 0", q.len())
	}
}
