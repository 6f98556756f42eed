package imap

import (
	"context"
	"errors"
	"fmt"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Account holds the connection settings one Conn needs.
type Account struct {
	ID       string
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}

// Conn implements Client on top of a go-imap v2 connection.
type Conn struct {
	client  *imapclient.Client
	mailbox string
}

// Connect dials the account's server, authenticates, and returns a
// connected Conn. The caller is responsible for calling Logout.
func Connect(_ context.Context, account Account) (*Conn, error) {
	addr := account.Host + ":" + account.Port

	var client *imapclient.Client
	var err error

	if account.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: "dial " + addr, Err: err}
	}

	if err := client.Login(account.Username, account.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &Error{
			Kind: KindAuth,
			Op:   "login " + account.Username,
			Err:  err,
		}
	}

	return &Conn{client: client}, nil
}

// OpenMailbox selects the mailbox at path and reports its UID-validity.
func (c *Conn) OpenMailbox(_ context.Context, path string, readOnly bool) (*MailboxStatus, error) {
	data, err := c.client.Select(path, &goimap.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		return nil, classify("open mailbox "+path, err)
	}
	c.mailbox = path
	return &MailboxStatus{
		UIDValidity: data.UIDValidity,
		NumMessages: data.NumMessages,
	}, nil
}

// SearchAllUIDs returns every UID in the selected mailbox.
func (c *Conn) SearchAllUIDs(_ context.Context) ([]int64, error) {
	data, err := c.client.UIDSearch(&goimap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, classify("search "+c.mailbox, err)
	}

	raw := data.AllUIDs()
	uids := make([]int64, len(raw))
	for i, uid := range raw {
		uids[i] = int64(uid)
	}
	return uids, nil
}

// FetchHeaders fetches envelope metadata for the given UIDs.
func (c *Conn) FetchHeaders(_ context.Context, uids []int64) ([]Header, error) {
	set, err := uidSet(uids)
	if err != nil {
		return nil, err
	}

	fetchOpts := &goimap.FetchOptions{
		Envelope:      true,
		Flags:         true,
		UID:           true,
		RFC822Size:    true,
		BodyStructure: &goimap.FetchItemBodyStructure{},
	}

	fetchCmd := c.client.Fetch(set, fetchOpts)
	defer fetchCmd.Close()

	var headers []Header
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		headers = append(headers, headerFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return headers, classify("fetch headers in "+c.mailbox, err)
	}
	return headers, nil
}

// FetchRawMessage fetches one message's full raw body. Returns nil when the
// message no longer exists in the mailbox.
func (c *Conn) FetchRawMessage(_ context.Context, uid int64) ([]byte, error) {
	set, err := uidSet([]int64{uid})
	if err != nil {
		return nil, err
	}

	bodySection := &goimap.FetchItemBodySection{Peek: true}
	fetchOpts := &goimap.FetchOptions{
		UID:         true,
		BodySection: []*goimap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.client.Fetch(set, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, nil
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, classify(fmt.Sprintf("collect message %d", uid), err)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, classify(fmt.Sprintf("fetch message %d", uid), err)
	}
	return buf.FindBodySection(bodySection), nil
}

// CloseMailbox deselects the current mailbox.
func (c *Conn) CloseMailbox(_ context.Context) error {
	if c.mailbox == "" {
		return nil
	}
	c.mailbox = ""
	if err := c.client.Unselect().Wait(); err != nil {
		return classify("close mailbox", err)
	}
	return nil
}

// SetFlags adds or removes flags on the given UIDs.
func (c *Conn) SetFlags(_ context.Context, uids []int64, flags []string, add bool) error {
	set, err := uidSet(uids)
	if err != nil {
		return err
	}

	op := goimap.StoreFlagsAdd
	if !add {
		op = goimap.StoreFlagsDel
	}

	imapFlags := make([]goimap.Flag, len(flags))
	for i, f := range flags {
		imapFlags[i] = goimap.Flag(f)
	}

	storeCmd := c.client.Store(set, &goimap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  imapFlags,
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return classify("store flags in "+c.mailbox, err)
	}
	return nil
}

// DeleteMessages flags the given UIDs deleted and expunges them.
func (c *Conn) DeleteMessages(ctx context.Context, uids []int64) error {
	if err := c.SetFlags(ctx, uids, []string{string(goimap.FlagDeleted)}, true); err != nil {
		return err
	}
	if err := c.client.Expunge().Close(); err != nil {
		return classify("expunge "+c.mailbox, err)
	}
	return nil
}

// MoveMessages moves the given UIDs to the target mailbox.
func (c *Conn) MoveMessages(_ context.Context, uids []int64, targetPath string) error {
	set, err := uidSet(uids)
	if err != nil {
		return err
	}
	if _, err := c.client.Move(set, targetPath).Wait(); err != nil {
		return classify("move to "+targetPath, err)
	}
	return nil
}

// Logout ends the session.
func (c *Conn) Logout() error {
	return c.client.Logout().Wait()
}

// uidSet converts local UIDs to a wire UID set, rejecting placeholders.
func uidSet(uids []int64) (goimap.UIDSet, error) {
	wire := make([]goimap.UID, len(uids))
	for i, uid := range uids {
		if uid <= 0 {
			return nil, fmt.Errorf("local placeholder uid %d must not reach the server", uid)
		}
		wire[i] = goimap.UID(uid)
	}
	return goimap.UIDSetNum(wire...), nil
}

// headerFromBuffer extracts a Header from a FetchMessageBuffer.
func headerFromBuffer(buf *imapclient.FetchMessageBuffer) Header {
	h := Header{
		UID:  int64(buf.UID),
		Size: buf.RFC822Size,
	}

	if buf.Envelope != nil {
		h.MessageID = buf.Envelope.MessageID
		h.Subject = buf.Envelope.Subject
		h.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				h.From = from.Name
			} else {
				h.From = from.Addr()
			}
		}
		for _, to := range buf.Envelope.To {
			h.To = append(h.To, to.Addr())
		}
		for _, cc := range buf.Envelope.Cc {
			h.Cc = append(h.Cc, cc.Addr())
		}
	}

	if h.Date.IsZero() {
		h.Date = time.Now()
	}

	for _, flag := range buf.Flags {
		h.Flags = append(h.Flags, string(flag))
	}

	if buf.BodyStructure != nil {
		mt := buf.BodyStructure.MediaType()
		h.HasAttachment = mt == "multipart/mixed" || mt == "multipart/related"
	}

	return h
}

// classify maps a go-imap error to a typed protocol error. Response codes
// carry the classification; anything else is treated as transient.
func classify(op string, err error) error {
	var imapErr *goimap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case goimap.ResponseCodeNonExistent, goimap.ResponseCodeTryCreate:
			return &Error{Kind: KindNotFound, Op: op, Err: err}
		case goimap.ResponseCodeAuthenticationFailed, goimap.ResponseCodeAuthorizationFailed:
			return &Error{Kind: KindAuth, Op: op, Err: err}
		case goimap.ResponseCodeNoPerm:
			return &Error{Kind: KindPermission, Op: op, Err: err}
		}
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

var _ Client = (*Conn)(nil)
