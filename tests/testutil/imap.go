package testutil

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/nhle/mailsync/internal/imap"
)

// FakeClient is an in-memory imap.Client for tests. Mailboxes map wire
// paths to fake mailbox state; calls are recorded in Calls for assertions.
// Safe for concurrent use.
type FakeClient struct {
	mu gosync.Mutex

	Mailboxes map[string]*FakeMailbox
	Calls     []string

	// Err, when set, is returned by every mutating call and by OpenMailbox.
	Err error

	selected string
}

// FakeMailbox holds one mailbox's fake server state.
type FakeMailbox struct {
	UIDValidity uint32
	Headers     []imap.Header

	// Bodies maps UID to raw message bytes; a missing UID makes
	// FetchRawMessage return nil, like an expunged message.
	Bodies map[int64][]byte
}

// NewFakeClient builds a fake client with no mailboxes.
func NewFakeClient() *FakeClient {
	return &FakeClient{Mailboxes: make(map[string]*FakeMailbox)}
}

// AddMailbox registers a mailbox with the given UID-validity and headers.
func (c *FakeClient) AddMailbox(path string, uidValidity uint32, headers ...imap.Header) *FakeMailbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	mbox := &FakeMailbox{
		UIDValidity: uidValidity,
		Headers:     headers,
		Bodies:      make(map[int64][]byte),
	}
	c.Mailboxes[path] = mbox
	return mbox
}

func (c *FakeClient) OpenMailbox(_ context.Context, path string, readOnly bool) (*imap.MailboxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, fmt.Sprintf("open %s readonly=%t", path, readOnly))
	if c.Err != nil {
		return nil, c.Err
	}
	mbox, ok := c.Mailboxes[path]
	if !ok {
		return nil, &imap.Error{Kind: imap.KindNotFound, Op: "open mailbox " + path, Err: fmt.Errorf("no such mailbox")}
	}
	c.selected = path
	return &imap.MailboxStatus{
		UIDValidity: mbox.UIDValidity,
		NumMessages: uint32(len(mbox.Headers)),
	}, nil
}

func (c *FakeClient) SearchAllUIDs(context.Context) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mbox := c.Mailboxes[c.selected]
	if mbox == nil {
		return nil, fmt.Errorf("no mailbox selected")
	}
	uids := make([]int64, 0, len(mbox.Headers))
	for _, h := range mbox.Headers {
		uids = append(uids, h.UID)
	}
	return uids, nil
}

func (c *FakeClient) FetchHeaders(_ context.Context, uids []int64) ([]imap.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mbox := c.Mailboxes[c.selected]
	if mbox == nil {
		return nil, fmt.Errorf("no mailbox selected")
	}
	want := make(map[int64]bool, len(uids))
	for _, uid := range uids {
		want[uid] = true
	}
	var out []imap.Header
	for _, h := range mbox.Headers {
		if want[h.UID] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (c *FakeClient) FetchRawMessage(_ context.Context, uid int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, fmt.Sprintf("fetch %d", uid))
	if c.Err != nil {
		return nil, c.Err
	}
	mbox := c.Mailboxes[c.selected]
	if mbox == nil {
		return nil, fmt.Errorf("no mailbox selected")
	}
	return mbox.Bodies[uid], nil
}

func (c *FakeClient) CloseMailbox(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = ""
	return nil
}

func (c *FakeClient) SetFlags(_ context.Context, uids []int64, flags []string, add bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, fmt.Sprintf("setflags %v %v add=%t", uids, flags, add))
	return c.Err
}

func (c *FakeClient) DeleteMessages(_ context.Context, uids []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, fmt.Sprintf("delete %v", uids))
	return c.Err
}

func (c *FakeClient) MoveMessages(_ context.Context, uids []int64, targetPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, fmt.Sprintf("move %v -> %s", uids, targetPath))
	return c.Err
}

func (c *FakeClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, "logout")
	return nil
}

// CallLog returns a snapshot of the recorded calls.
func (c *FakeClient) CallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Calls))
	copy(out, c.Calls)
	return out
}

var _ imap.Client = (*FakeClient)(nil)

// FakeDialer hands out a fixed client for every account, counting dials.
type FakeDialer struct {
	Client *FakeClient

	mu    gosync.Mutex
	Dials int

	// DialErr, when set, fails every Dial.
	DialErr error
}

func (d *FakeDialer) Dial(context.Context, string) (imap.Client, error) {
	d.mu.Lock()
	d.Dials++
	d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	return d.Client, nil
}

var _ imap.Dialer = (*FakeDialer)(nil)
