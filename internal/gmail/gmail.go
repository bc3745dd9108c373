// Package gmail executes the mail tools against the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/credential"
	"pkt.systems/ledgerd/internal/cursor"
	"pkt.systems/ledgerd/internal/filter"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/retry"
	"pkt.systems/ledgerd/internal/schema"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/tools"
	"pkt.systems/ledgerd/internal/upstream"
)

// DefaultBaseURL is the Gmail API root for the authenticated mailbox.
const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// nativePageMax is the messages.list cap on ids per call.
const nativePageMax = 500

const (
	defaultPageSize = 10
	maxPageSize     = 50
	defaultMaxBody  = 20000
	fetchWorkers    = 8
	messageFields   = "id,threadId,labelIds,snippet,internalDate,payload(mimeType,filename,headers,body(attachmentId,size),parts(partId,mimeType,filename,headers,body(attachmentId,size),parts(partId,mimeType,filename,body(attachmentId,size))))"
	attachmentOwner = "gmail"
)

var (
	searchInput = schema.Object(schema.Props{
		"query":    schema.String("Gmail search query, for example from:acme has:attachment").Length(0, 1000),
		"cursor":   schema.String("nextCursor from a previous page"),
		"pageSize": schema.Integer("Messages per page").Range(1, maxPageSize),
	})

	contentInput = schema.Object(schema.Props{
		"messageId":    schema.String("Gmail message id").Length(1, 128),
		"maxBodyChars": schema.Integer("Truncate the body after this many bytes").Range(100, 200000),
	}, "messageId")

	attachmentInput = schema.Object(schema.Props{
		"messageId":    schema.String("Gmail message id").Length(1, 128),
		"attachmentId": schema.String("Attachment id from get_email_content").Length(1, 1024),
		"filename":     schema.String("Attachment filename from get_email_content, used when the id has rotated"),
	}, "messageId", "attachmentId")
)

// Config wires an Executor.
type Config struct {
	BaseURL     string
	Client      *upstream.Client
	Credentials credential.Provider
	Resources   *resource.Store
	Cursors     *cursor.Codec
	Retry       retry.Policy
	Clock       clock.Clock
	Logger      pslog.Logger
}

// Executor runs Gmail tools.
type Executor struct {
	base      string
	client    *upstream.Client
	creds     credential.Provider
	resources *resource.Store
	cursors   *cursor.Codec
	policy    retry.Policy
	clock     clock.Clock
	logger    pslog.Logger
}

// New validates cfg and returns an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Client == nil || cfg.Credentials == nil || cfg.Resources == nil {
		return nil, errors.New("gmail: client, credentials and resource store are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	clk := clock.Or(cfg.Clock)
	cursors := cfg.Cursors
	if cursors == nil {
		cursors = cursor.NewCodec(clk)
	}
	return &Executor{
		base:      base,
		client:    cfg.Client,
		creds:     cfg.Credentials,
		resources: cfg.Resources,
		cursors:   cursors,
		policy:    cfg.Retry,
		clock:     clk,
		logger:    svcfields.WithSubsystem(cfg.Logger, "executor.gmail"),
	}, nil
}

// Bindings returns the handler and input schema of every Gmail tool.
func (e *Executor) Bindings() map[string]tools.Binding {
	return map[string]tools.Binding{
		"search_emails":        {Input: searchInput, Handler: e.searchEmails},
		"get_email_content":    {Input: contentInput, Handler: e.getEmailContent},
		"get_email_attachment": {Input: attachmentInput, Handler: e.getEmailAttachment},
	}
}

// mailbox is the resolved Gmail token of one user.
type mailbox struct {
	user  string
	token credential.Token
}

func (e *Executor) mailbox(ctx context.Context, user string) (mailbox, error) {
	tok, err := e.creds.Token(ctx, user, credential.ProviderGmail)
	if err != nil {
		return mailbox{}, err
	}
	return mailbox{user: user, token: tok}, nil
}

// get retries behind the user's breaker; Gmail quotas are per user.
func (e *Executor) get(ctx context.Context, mb mailbox, op, path string, query url.Values, out any) error {
	req := upstream.Request{URL: e.base + path, Query: query, Token: mb.token.AccessToken, Partition: mb.user}
	return e.client.Guard(req, func() error {
		_, err := retry.Do(ctx, e.policy, e.clock, e.logger, op, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.client.Do(ctx, req, out)
		})
		return err
	})
}

type listResponse struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// collectIDs walks Gmail page tokens until want ids are gathered or the
// mailbox has no more matches. Page tokens stay inside this function.
func (e *Executor) collectIDs(ctx context.Context, mb mailbox, query string, want int) ([]string, error) {
	ids := make([]string, 0, want)
	pageToken := ""
	for len(ids) < want {
		q := url.Values{}
		if query != "" {
			q.Set("q", query)
		}
		q.Set("maxResults", fmt.Sprint(min(nativePageMax, want-len(ids))))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page listResponse
		if err := e.get(ctx, mb, "search_emails", "/messages", q, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}
		if page.NextPageToken == "" || len(page.Messages) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(ids) > want {
		ids = ids[:want]
	}
	return ids, nil
}

func (e *Executor) message(ctx context.Context, mb mailbox, op, id string) (filter.GmailMessage, error) {
	q := url.Values{}
	q.Set("format", "full")
	q.Set("fields", messageFields)
	var msg filter.GmailMessage
	err := e.get(ctx, mb, op, "/messages/"+url.PathEscape(id), q, &msg)
	return msg, err
}

func (e *Executor) searchEmails(ctx context.Context, call tools.Call) (any, error) {
	pos, err := e.cursors.ParseParams(call.Args.String("cursor"), call.Args.Int("pageSize", defaultPageSize))
	if err != nil {
		return nil, err
	}
	if pos.PageSize > maxPageSize {
		return nil, fmt.Errorf("%w: page size %d exceeds %d", cursor.ErrInvalidCursor, pos.PageSize, maxPageSize)
	}
	mb, err := e.mailbox(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	ids, err := e.collectIDs(ctx, mb, call.Args.String("query"), pos.End())
	if err != nil {
		return nil, err
	}
	if pos.Offset >= len(ids) {
		return cursor.NewPage[filter.EmailSummary](e.cursors, pos, nil)
	}
	ids = ids[pos.Offset:]

	summaries := make([]filter.EmailSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := e.message(gctx, mb, "search_emails", id)
			if err != nil {
				return err
			}
			summaries[i] = filter.Email(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cursor.NewPage(e.cursors, pos, summaries)
}

func (e *Executor) getEmailContent(ctx context.Context, call tools.Call) (any, error) {
	mb, err := e.mailbox(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("format", "full")
	var msg filter.GmailMessage
	if err := e.get(ctx, mb, "get_email_content", "/messages/"+url.PathEscape(call.Args.String("messageId")), q, &msg); err != nil {
		return nil, err
	}
	return filter.EmailContentOf(msg, call.Args.Int("maxBodyChars", defaultMaxBody)), nil
}

// AttachmentResult describes an attachment stored as a resource.
type AttachmentResult struct {
	MessageID  string            `json:"messageId"`
	Attachment filter.Attachment `json:"attachment"`
	Resource   resource.Link     `json:"resource"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// storedAttachment is the payload written to the resource store.
type storedAttachment struct {
	MessageID string `json:"messageId"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	Size      int    `json:"size"`
	Encoding  string `json:"encoding"`
	Content   string `json:"content"`
}

func (e *Executor) getEmailAttachment(ctx context.Context, call tools.Call) (any, error) {
	mb, err := e.mailbox(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	msgID := call.Args.String("messageId")
	attID := call.Args.String("attachmentId")
	var body struct {
		Size int    `json:"size"`
		Data string `json:"data"`
	}
	path := "/messages/" + url.PathEscape(msgID) + "/attachments/" + url.PathEscape(attID)
	if err := e.get(ctx, mb, "get_email_attachment", path, nil, &body); err != nil {
		return nil, err
	}
	data, err := filter.DecodeBase64URL(body.Data)
	if err != nil {
		return nil, &upstream.Error{Status: http.StatusBadGateway, Message: "attachment payload is not base64url"}
	}

	info := filter.Attachment{AttachmentID: attID, MimeType: "application/octet-stream", Size: len(data)}
	msg, err := e.message(ctx, mb, "get_email_attachment", msgID)
	if err != nil {
		return nil, err
	}
	if found, ok := matchAttachment(filter.Attachments(msg), attID, call.Args.String("filename")); ok {
		info.Filename = found.Filename
		info.MimeType = found.MimeType
	}

	tenant := mb.token.TenantID
	if tenant == "" {
		tenant = attachmentOwner
	}
	meta, err := e.resources.Store(ctx, storedAttachment{
		MessageID: msgID,
		Filename:  info.Filename,
		MimeType:  info.MimeType,
		Size:      len(data),
		Encoding:  "base64url",
		Content:   body.Data,
	}, resource.KindExport, call.UserID, tenant)
	if err != nil {
		return nil, err
	}
	svcfields.FromContext(ctx, e.logger, "executor.gmail").Info("gmail.attachment.stored",
		svcfields.ResourceKey, meta.ResourceID,
		"bytes", len(data),
		"tier", string(meta.StorageTier),
	)
	return AttachmentResult{
		MessageID:  msgID,
		Attachment: info,
		Resource: resource.Link{
			URI:        e.resources.URI(meta.ResourceID),
			MimeType:   resource.MimeType,
			ResourceID: meta.ResourceID,
		},
		ExpiresAt: meta.ExpiresAt,
	}, nil
}

// matchAttachment finds the part for attID. Gmail rotates attachment ids
// between fetches, so the filename is the fallback key.
func matchAttachment(parts []filter.Attachment, attID, filename string) (filter.Attachment, bool) {
	for _, p := range parts {
		if p.AttachmentID == attID {
			return p, true
		}
	}
	if filename == "" && len(parts) == 1 {
		return parts[0], true
	}
	for _, p := range parts {
		if filename != "" && strings.EqualFold(p.Filename, filename) {
			return p, true
		}
	}
	return filter.Attachment{}, false
}
