package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rendis/triggerflow/internal/mailer"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*mailer.Message
	ok   bool
	err  error
}

func newFakeSender() *fakeSender { return &fakeSender{ok: true} }

func (f *fakeSender) SendEmail(_ context.Context, msg *mailer.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if !f.ok {
		return false, nil
	}
	f.sent = append(f.sent, msg)
	return true, nil
}

type recordOp struct {
	kind     string
	ownerID  string
	tableID  string
	recordID string
	data     map[string]any
}

type fakeRecords struct {
	mu     sync.Mutex
	ops    []recordOp
	nextID int
	err    error
}

func (f *fakeRecords) InsertRecord(_ context.Context, ownerID, tableID string, data map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.nextID++
	id := fmt.Sprintf("rec-%d", f.nextID)
	f.ops = append(f.ops, recordOp{kind: "insert", ownerID: ownerID, tableID: tableID, recordID: id, data: data})
	return id, nil
}

func (f *fakeRecords) UpdateRecord(_ context.Context, ownerID, tableID, recordID string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ops = append(f.ops, recordOp{kind: "update", ownerID: ownerID, tableID: tableID, recordID: recordID, data: patch})
	return nil
}

func (f *fakeRecords) DeleteRecord(_ context.Context, ownerID, tableID, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ops = append(f.ops, recordOp{kind: "delete", ownerID: ownerID, tableID: tableID, recordID: recordID})
	return nil
}

var errBoom = errors.New("boom")
