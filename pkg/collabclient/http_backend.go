package collabclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"section-collab-be/pkg/collaberr"
	"section-collab-be/pkg/events"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPBackend talks to a running server: REST for commands, a WebSocket per
// subscription. BaseURL points at the API root, e.g. http://localhost:3000/api.
type HTTPBackend struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Dialer  *websocket.Dialer
	Logger  Logger
}

func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Timeout: defaultHTTPTimeout,
		Dialer:  websocket.DefaultDialer,
		Logger:  NopLogger(),
	}
}

var _ Backend = (*HTTPBackend)(nil)

type envelope[T any] struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
	Data      T               `json:"data"`
	Details   json.RawMessage `json:"details"`
}

type lockBody struct {
	DocumentId uuid.UUID `json:"document_id"`
	SectionId  string    `json:"section_id"`
	UserId     uuid.UUID `json:"user_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type sectionBody struct {
	Id       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Editable bool   `json:"editable"`
}

type versionBody struct {
	Id            uuid.UUID     `json:"id"`
	DocumentId    uuid.UUID     `json:"document_id"`
	VersionNumber int           `json:"version_number"`
	AuthorId      uuid.UUID     `json:"author_id"`
	Sections      []sectionBody `json:"sections"`
	CreatedAt     time.Time     `json:"created_at"`
}

// VersionSummary is one row of a document's history.
type VersionSummary struct {
	VersionNumber int       `json:"version_number"`
	AuthorId      uuid.UUID `json:"author_id"`
	SectionCount  int       `json:"section_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func (b *HTTPBackend) AcquireLock(ctx context.Context, documentId uuid.UUID, sectionId string) (*events.Holder, error) {
	var res struct {
		Changed bool     `json:"changed"`
		Lock    lockBody `json:"lock"`
	}
	if err := b.do(ctx, fiber.Post(b.sectionURL(documentId, sectionId)+"/lock"), nil, &res); err != nil {
		return nil, err
	}
	return &events.Holder{UserId: res.Lock.UserId, AcquiredAt: res.Lock.AcquiredAt, ExpiresAt: res.Lock.ExpiresAt}, nil
}

func (b *HTTPBackend) ReleaseLock(ctx context.Context, documentId uuid.UUID, sectionId string) error {
	return b.do(ctx, fiber.Delete(b.sectionURL(documentId, sectionId)+"/lock"), nil, nil)
}

func (b *HTTPBackend) CommitSection(ctx context.Context, documentId uuid.UUID, sectionId, content string, seq uint64) (int, error) {
	req := map[string]interface{}{"content": content, "seq": seq}
	var res struct {
		VersionNumber int `json:"version_number"`
	}
	if err := b.do(ctx, fiber.Put(b.sectionURL(documentId, sectionId)), req, &res); err != nil {
		return 0, err
	}
	return res.VersionNumber, nil
}

func (b *HTTPBackend) FetchSnapshot(ctx context.Context, documentId uuid.UUID) (*events.Snapshot, error) {
	var doc struct {
		CurrentVersion versionBody `json:"current_version"`
		Locks          []lockBody  `json:"locks"`
	}
	if err := b.do(ctx, fiber.Get(b.documentURL(documentId)), nil, &doc); err != nil {
		return nil, err
	}

	v := doc.CurrentVersion
	snap := &events.Snapshot{
		Version: events.VersionCommitted{
			DocumentId:    documentId,
			VersionNumber: v.VersionNumber,
			AuthorId:      v.AuthorId,
			CommittedAt:   v.CreatedAt,
			Sections:      make([]events.Section, len(v.Sections)),
		},
		Locks: make([]events.LockChanged, 0, len(doc.Locks)),
	}
	for i, s := range v.Sections {
		snap.Version.Sections[i] = events.Section{Id: s.Id, Title: s.Title, Content: s.Content, Editable: s.Editable}
	}
	for _, l := range doc.Locks {
		snap.Locks = append(snap.Locks, events.LockChanged{
			DocumentId: documentId,
			SectionId:  l.SectionId,
			Holder:     &events.Holder{UserId: l.UserId, AcquiredAt: l.AcquiredAt, ExpiresAt: l.ExpiresAt},
		})
	}
	return snap, nil
}

// ActiveLocks lists the leases currently held on a document.
func (b *HTTPBackend) ActiveLocks(ctx context.Context, documentId uuid.UUID) ([]events.LockChanged, error) {
	var locks []lockBody
	if err := b.do(ctx, fiber.Get(b.documentURL(documentId)+"/locks"), nil, &locks); err != nil {
		return nil, err
	}
	out := make([]events.LockChanged, 0, len(locks))
	for _, l := range locks {
		out = append(out, events.LockChanged{
			DocumentId: documentId,
			SectionId:  l.SectionId,
			Holder:     &events.Holder{UserId: l.UserId, AcquiredAt: l.AcquiredAt, ExpiresAt: l.ExpiresAt},
		})
	}
	return out, nil
}

// History lists a document's versions, newest first.
func (b *HTTPBackend) History(ctx context.Context, documentId uuid.UUID) ([]VersionSummary, error) {
	var versions []VersionSummary
	if err := b.do(ctx, fiber.Get(b.documentURL(documentId)+"/versions"), nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (b *HTTPBackend) Subscribe(ctx context.Context, documentId uuid.UUID, handlers Handlers) (Subscription, error) {
	wsURL, err := b.websocketURL(documentId)
	if err != nil {
		return nil, err
	}

	conn, resp, err := b.Dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: websocket handshake rejected", collaberr.ErrUnauthorized)
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, collaberr.NotFound("document", documentId.String())
		}
		return nil, collaberr.Transport(err)
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}
	go sub.read(handlers, b.Logger)
	return sub, nil
}

func (b *HTTPBackend) documentURL(documentId uuid.UUID) string {
	return fmt.Sprintf("%s/documents/v1/%s", b.BaseURL, documentId)
}

func (b *HTTPBackend) sectionURL(documentId uuid.UUID, sectionId string) string {
	return fmt.Sprintf("%s/sections/%s", b.documentURL(documentId), url.PathEscape(sectionId))
}

func (b *HTTPBackend) websocketURL(documentId uuid.UUID) (string, error) {
	u, err := url.Parse(b.documentURL(documentId) + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", b.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// do sends one request and decodes the data field into out. Error bodies are
// turned back into the collaberr sentinels the server started from.
func (b *HTTPBackend) do(ctx context.Context, a *fiber.Agent, body interface{}, out interface{}) error {
	timeout := b.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		fiber.ReleaseAgent(a)
		return collaberr.Transport(context.DeadlineExceeded)
	}

	a.Set(fiber.HeaderAuthorization, "Bearer "+b.Token).Timeout(timeout)
	if body != nil {
		a.JSON(body)
	}

	code, raw, errs := a.Bytes()
	if len(errs) > 0 {
		return collaberr.Transport(errs[0])
	}
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		return collaberr.Transport(fmt.Errorf("server answered %d", code))
	}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return collaberr.Transport(fmt.Errorf("decode response (%d): %w", code, err))
	}
	if code >= http.StatusBadRequest {
		return decodeError(env.ErrorCode, env.Message, env.Details)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func decodeError(code, message string, details json.RawMessage) error {
	if code == "LOCK_DENIED" && len(details) > 0 {
		var d struct {
			SectionId string           `json:"section_id"`
			Holder    collaberr.Holder `json:"holder"`
		}
		if err := json.Unmarshal(details, &d); err == nil {
			return &collaberr.LockDeniedError{SectionId: d.SectionId, Holder: d.Holder}
		}
	}
	return collaberr.FromCode(code, message)
}

type wsSubscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *wsSubscription) read(h Handlers, log Logger) {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Subscription", "Connection closed", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("Subscription", "Dropping undecodable event", map[string]interface{}{"error": err.Error()})
			continue
		}
		if err := env.Validate(); err != nil {
			log.Warn("Subscription", "Dropping invalid event", map[string]interface{}{"error": err.Error()})
			continue
		}

		switch env.Kind {
		case events.KindSnapshot:
			deliverSnapshot(h, *env.Snapshot)
		case events.KindVersionCommitted:
			if h.OnVersion != nil {
				h.OnVersion(*env.Version)
			}
		case events.KindLockChanged:
			if h.OnLockChange != nil {
				h.OnLockChange(*env.Lock)
			}
		}
	}
}

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
		<-s.done
	})
	return err
}
