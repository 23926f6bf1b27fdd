// Package email reads the shared mailbox over IMAP.
package email

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/source"
)

// Source implements source.MailSource for an IMAP folder.
type Source struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	folder   string
	lookback time.Duration
	now      func() time.Time
}

// New creates an IMAP mail source from cfg.
func New(cfg model.MailboxConfig, password string) *Source {
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	lookback := time.Duration(cfg.LookbackDays) * 24 * time.Hour
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &Source{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: password,
		tls:      cfg.TLS,
		folder:   folder,
		lookback: lookback,
		now:      time.Now,
	}
}

// Mailbox returns the folder name.
func (s *Source) Mailbox() string {
	return s.folder
}

// connect establishes a connection to the IMAP server and authenticates.
// The caller is responsible for calling Logout on the returned client.
func (s *Source) connect(_ context.Context) (*imapclient.Client, error) {
	addr := s.host + ":" + s.port

	var client *imapclient.Client
	var err error

	if s.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(s.username, s.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Mailbox: s.folder,
			Message: fmt.Sprintf("authentication failed for %s: %v", s.username, err),
		}
	}

	return client, nil
}

// ValidateConnection connects, authenticates and selects the folder.
// Returns the username on success.
func (s *Source) ValidateConnection(ctx context.Context) (string, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return "", fmt.Errorf("validating mailbox connection: %w", err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(s.folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return "", fmt.Errorf("selecting %s: %w", s.folder, err)
	}
	return s.username, nil
}

// FetchSince implements source.MailSource.
func (s *Source) FetchSince(ctx context.Context, cursor source.Cursor, limit int) (source.Batch, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return source.Batch{}, err
	}
	defer func() { _ = client.Logout().Wait() }()

	sel, err := client.Select(s.folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return source.Batch{}, fmt.Errorf("selecting %s: %w", s.folder, err)
	}

	next := source.Cursor{UIDValidity: sel.UIDValidity}
	if cursor.UIDValidity == sel.UIDValidity {
		next.LastUID = cursor.LastUID
	}

	criteria := &imap.SearchCriteria{}
	if next.LastUID > 0 {
		var set imap.UIDSet
		set.AddRange(imap.UID(next.LastUID+1), 0)
		criteria.UID = []imap.UIDSet{set}
	} else {
		criteria.Since = s.now().Add(-s.lookback)
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return source.Batch{}, fmt.Errorf("searching %s: %w", s.folder, err)
	}

	uids := selectUIDs(searchData.AllUIDs(), next.LastUID, limit)
	if len(uids) == 0 {
		return source.Batch{Cursor: next}, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var emails []model.Email
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		emails = append(emails, emailFromBuffer(buf, buf.FindBodySection(bodySection)))
	}

	if err := fetchCmd.Close(); err != nil {
		return source.Batch{}, fmt.Errorf("fetching messages: %w", err)
	}

	sort.Slice(emails, func(i, j int) bool { return emails[i].UID < emails[j].UID })

	// The cursor advances over every selected UID, including ones that
	// could not be collected, so a broken message is not retried forever.
	next.LastUID = uint32(uids[len(uids)-1])
	return source.Batch{Cursor: next, Emails: emails}, nil
}

// selectUIDs drops UIDs at or below after (servers answer "N:*" with the
// last message even when N is beyond it) and keeps the oldest limit UIDs.
func selectUIDs(all []imap.UID, after uint32, limit int) []imap.UID {
	uids := make([]imap.UID, 0, len(all))
	for _, uid := range all {
		if uint32(uid) > after {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	return uids
}

// emailFromBuffer builds an Email from the envelope, preferring the parsed
// headers for threading.
func emailFromBuffer(buf *imapclient.FetchMessageBuffer, raw []byte) model.Email {
	e := model.Email{UID: uint32(buf.UID)}

	if env := buf.Envelope; env != nil {
		e.MessageID = env.MessageID
		e.InReplyTo = env.InReplyTo
		e.Subject = env.Subject
		e.Date = env.Date
		if len(env.From) > 0 {
			e.From = env.From[0].Addr()
		}
		for _, to := range env.To {
			e.To = append(e.To, to.Addr())
		}
	}

	if raw != nil {
		parsed, err := ParseMessage(raw)
		if err == nil {
			mergeParsed(&e, parsed)
		} else {
			e.Body = string(raw)
		}
	}
	return e
}

// mergeParsed fills e from parsed headers where the envelope was silent.
func mergeParsed(e *model.Email, p model.Email) {
	if e.MessageID == "" {
		e.MessageID = p.MessageID
	}
	if len(p.InReplyTo) > 0 {
		e.InReplyTo = p.InReplyTo
	}
	e.References = p.References
	if e.Subject == "" {
		e.Subject = p.Subject
	}
	if e.From == "" {
		e.From = p.From
	}
	if len(e.To) == 0 {
		e.To = p.To
	}
	if e.Date.IsZero() {
		e.Date = p.Date
	}
	e.Body = p.Body
	e.Attachments = p.Attachments
}
