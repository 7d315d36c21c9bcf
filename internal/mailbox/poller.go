// Package mailbox polls an IMAP folder for lead feed documents sent by
// email and hands them to the ingest queue.
package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	imap "github.com/BrianLeishman/go-imap"

	feeddomain "leadpipeline_backend/internal/feed/domain"
	"leadpipeline_backend/platform/config"
	"leadpipeline_backend/platform/logger"
)

const (
	defaultPollInterval = time.Minute
	defaultFolder       = "INBOX"
	sourceProvider      = "imap"
)

// Client is the subset of the IMAP dialer the poller uses.
type Client interface {
	SelectFolder(folder string) error
	GetUIDs(search string) ([]int, error)
	GetEmails(uids ...int) (map[int]*imap.Email, error)
	Close() error
}

// DialFunc opens a new IMAP session.
type DialFunc func() (Client, error)

// Enqueuer accepts raw feed documents for ingestion.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, raw feeddomain.RawDocument) error
}

// Poller fetches new messages from one folder, extracts XML lead documents
// from attachments or bodies, and enqueues them.
type Poller struct {
	dial          DialFunc
	queue         Enqueuer
	log           *logger.Logger
	folder        string
	dealershipRef string
	interval      time.Duration

	lastUID int
}

// Dial returns a DialFunc backed by go-imap using the configured account.
func Dial(cfg config.IMAPConfig) DialFunc {
	return func() (Client, error) {
		d, err := imap.New(cfg.GetIMAPUsername(), cfg.GetIMAPPassword(), cfg.GetIMAPHost(), cfg.GetIMAPPort())
		if err != nil {
			return nil, fmt.Errorf("imap dial %s: %w", cfg.GetIMAPHost(), err)
		}
		return d, nil
	}
}

func NewPoller(dial DialFunc, queue Enqueuer, cfg config.IMAPConfig, log *logger.Logger) *Poller {
	folder := strings.TrimSpace(cfg.GetIMAPFolder())
	if folder == "" {
		folder = defaultFolder
	}
	interval := cfg.GetIMAPPollInterval()
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Poller{
		dial:          dial,
		queue:         queue,
		log:           log,
		folder:        folder,
		dealershipRef: cfg.GetIMAPDealershipRef(),
		interval:      interval,
	}
}

func (p *Poller) Run(ctx context.Context) {
	if p == nil || p.dial == nil {
		return
	}

	p.log.Info("mailbox poller started", "folder", p.folder, "interval", p.interval.String())
	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("mailbox poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	n, err := p.Poll(ctx)
	if err != nil {
		p.log.Warn("mailbox poll failed", "folder", p.folder, "error", err)
		return
	}
	if n > 0 {
		p.log.Info("mailbox documents enqueued", "folder", p.folder, "count", n)
	}
}

// Poll runs one fetch cycle and returns the number of documents enqueued.
// The UID watermark only advances past messages that were fully enqueued.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	client, err := p.dial()
	if err != nil {
		return 0, err
	}
	defer func() { _ = client.Close() }()

	if err := client.SelectFolder(p.folder); err != nil {
		return 0, fmt.Errorf("select folder %s: %w", p.folder, err)
	}

	uids, err := client.GetUIDs(p.search())
	if err != nil {
		return 0, fmt.Errorf("search folder %s: %w", p.folder, err)
	}
	uids = p.unseen(uids)
	if len(uids) == 0 {
		return 0, nil
	}

	emails, err := client.GetEmails(uids...)
	if err != nil {
		return 0, fmt.Errorf("fetch %d messages: %w", len(uids), err)
	}

	enqueued := 0
	for _, uid := range uids {
		email, ok := emails[uid]
		if !ok || email == nil {
			p.lastUID = uid
			continue
		}
		docs := Documents(email)
		if len(docs) == 0 {
			p.log.Debug("mailbox message has no lead document", "uid", uid, "subject", email.Subject)
		}
		for _, body := range docs {
			err := p.queue.EnqueueIngest(ctx, feeddomain.RawDocument{
				Body: body,
				Meta: feeddomain.DocumentMeta{
					DealershipRef:  p.dealershipRef,
					SourceProvider: sourceProvider,
				},
			})
			if err != nil {
				return enqueued, fmt.Errorf("enqueue message %d: %w", uid, err)
			}
			enqueued++
		}
		p.lastUID = uid
	}

	return enqueued, nil
}

func (p *Poller) search() string {
	if p.lastUID == 0 {
		return "UNSEEN"
	}
	return fmt.Sprintf("UID %d:*", p.lastUID+1)
}

// unseen drops UIDs at or below the watermark. IMAP returns the highest
// existing UID for "n:*" even when it is below n.
func (p *Poller) unseen(uids []int) []int {
	out := uids[:0:0]
	for _, uid := range uids {
		if uid > p.lastUID {
			out = append(out, uid)
		}
	}
	return out
}

// Documents returns the XML lead documents carried by an email. Attachments
// win over the body; a body is only used when it looks like XML.
func Documents(email *imap.Email) [][]byte {
	var docs [][]byte
	for _, att := range email.Attachments {
		if isXMLAttachment(att) && len(bytes.TrimSpace(att.Content)) > 0 {
			docs = append(docs, att.Content)
		}
	}
	if len(docs) > 0 {
		return docs
	}

	body := strings.TrimSpace(email.Text)
	if looksLikeXML(body) {
		return [][]byte{[]byte(body)}
	}
	return nil
}

func isXMLAttachment(att imap.Attachment) bool {
	mime := strings.ToLower(att.MimeType)
	if strings.Contains(mime, "xml") {
		return true
	}
	ext := strings.ToLower(path.Ext(att.Name))
	return ext == ".xml" || ext == ".adf"
}

func looksLikeXML(body string) bool {
	if strings.HasPrefix(body, "<?xml") {
		return true
	}
	lower := strings.ToLower(body)
	return strings.HasPrefix(lower, "<adf") || strings.HasPrefix(lower, "<prospect")
}
