package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neboloop/ouro/internal/httputil"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/markdown"
	"github.com/neboloop/ouro/internal/metrics"
	"github.com/neboloop/ouro/internal/middleware"
)

const (
	WebhookName        = "webhook"
	defaultReplyBuffer = 100
	incomingBuffer     = 64
	wsWriteTimeout     = 10 * time.Second
	wsPingInterval     = 30 * time.Second
)

// WebhookOptions configures the HTTP inbox.
type WebhookOptions struct {
	Addr string
	// Secret enables HS256 bearer auth on every route but /healthz.
	Secret string
	// Status returns the markdown served at /status.
	Status func(ctx context.Context) string
	// ReplyBuffer is how many replies /replies keeps.
	ReplyBuffer int
}

// Reply is an outbound message kept for polling clients.
type Reply struct {
	To   string    `json:"to"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Webhook accepts messages over HTTP POST and websockets. Replies go back
// over the socket a message came from and are also kept for GET /replies.
type Webhook struct {
	opts     WebhookOptions
	upgrader websocket.Upgrader
	incoming chan inbox.Envelope

	mu      sync.Mutex
	clients map[string]*wsClient
	replies []Reply
}

// NewWebhook returns a webhook adapter. Call Serve to listen, or mount
// Handler on an existing server.
func NewWebhook(opts WebhookOptions) *Webhook {
	if opts.ReplyBuffer <= 0 {
		opts.ReplyBuffer = defaultReplyBuffer
	}
	return &Webhook{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.IsLocalhostOrigin(origin)
			},
		},
		incoming: make(chan inbox.Envelope, incomingBuffer),
		clients:  make(map[string]*wsClient),
	}
}

func (w *Webhook) Name() string { return WebhookName }

// Handler returns the router.
func (w *Webhook) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		httputil.OkJSON(rw, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if w.opts.Secret != "" {
			r.Use(middleware.JWT(w.opts.Secret))
		}
		r.Post("/inbox", w.handlePost)
		r.Get("/ws", w.handleWS)
		r.Get("/replies", w.handleReplies)
		r.Get("/status", w.handleStatus)
		r.Handle("/metrics", metrics.Handler())
	})
	return r
}

// Serve listens on opts.Addr until ctx is done.
func (w *Webhook) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              w.opts.Addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.For("channels").Info("webhook listening", "addr", w.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.closeClients()
	return srv.Shutdown(shutdownCtx)
}

type postRequest struct {
	Text    string `json:"text" validate:"required,max=20000"`
	Sender  string `json:"sender" validate:"max=64"`
	ReplyTo string `json:"reply_to" validate:"max=128"`
}

func (w *Webhook) handlePost(rw http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := httputil.Parse(rw, r, &req); err != nil {
		httputil.Error(rw, err)
		return
	}
	sender := req.Sender
	if sender == "" {
		sender = middleware.Subject(r.Context())
	}
	if sender == "" {
		sender = "anonymous"
	}
	target := req.ReplyTo
	if target == "" {
		target = uuid.NewString()
	}
	env := inbox.NewEnvelope(WebhookName,
		fmt.Sprintf("[Webhook from %s]: %s", sender, req.Text),
		inbox.Address{Channel: WebhookName, Target: target})

	select {
	case w.incoming <- env:
	default:
		httputil.ErrorWithCode(rw, http.StatusServiceUnavailable, "inbox full")
		return
	}
	httputil.WriteJSON(rw, http.StatusAccepted, map[string]string{"id": env.ID, "reply_to": target})
}

type wsMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

func (w *Webhook) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	id := uuid.NewString()
	c := &wsClient{conn: conn}
	w.mu.Lock()
	w.clients[id] = c
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.clients, id)
		w.mu.Unlock()
		conn.Close()
	}()

	if err := c.write(wsMessage{Type: "hello", ID: id}); err != nil {
		return
	}

	sender := middleware.Subject(r.Context())
	if sender == "" {
		sender = "websocket"
	}

	conn.SetReadLimit(1 << 20)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	})
	conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(wsPingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if c.ping() != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
		if msg.Text == "" {
			continue
		}
		env := inbox.NewEnvelope(WebhookName,
			fmt.Sprintf("[Webhook from %s]: %s", sender, msg.Text),
			inbox.Address{Channel: WebhookName, Target: id})
		select {
		case w.incoming <- env:
			c.write(wsMessage{Type: "queued", ID: env.ID})
		case <-r.Context().Done():
			return
		}
	}
}

type repliesRequest struct {
	Target string `form:"to"`
	Limit  int    `form:"limit" validate:"gte=0,lte=1000"`
}

func (w *Webhook) handleReplies(rw http.ResponseWriter, r *http.Request) {
	var req repliesRequest
	if err := httputil.Parse(rw, r, &req); err != nil {
		httputil.Error(rw, err)
		return
	}
	httputil.OkJSON(rw, w.Replies(req.Target, req.Limit))
}

func (w *Webhook) handleStatus(rw http.ResponseWriter, r *http.Request) {
	content := "# ouro\n\nNo status available."
	if w.opts.Status != nil {
		content = w.opts.Status(r.Context())
	}
	page, err := markdown.Page("ouro status", content)
	if err != nil {
		httputil.InternalError(rw, err.Error())
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Write(page)
}

// Replies returns up to limit of the most recent replies, oldest first,
// optionally only those sent to target. A limit of 0 returns all kept.
func (w *Webhook) Replies(target string, limit int) []Reply {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []Reply{}
	for _, rep := range w.replies {
		if target == "" || rep.To == target {
			out = append(out, rep)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Poll blocks until a message arrives.
func (w *Webhook) Poll(ctx context.Context, cursor string) ([]inbox.Envelope, string, error) {
	var envs []inbox.Envelope
	select {
	case <-ctx.Done():
		return nil, cursor, ctx.Err()
	case e := <-w.incoming:
		envs = append(envs, e)
	}
	for {
		select {
		case e := <-w.incoming:
			envs = append(envs, e)
		default:
			return envs, cursor, nil
		}
	}
}

// Send keeps the reply and pushes it to the websocket client named by
// to.Target when one is connected.
func (w *Webhook) Send(_ context.Context, to inbox.Address, text string) error {
	w.mu.Lock()
	w.replies = append(w.replies, Reply{To: to.Target, Text: text, At: time.Now()})
	if over := len(w.replies) - w.opts.ReplyBuffer; over > 0 {
		w.replies = append(w.replies[:0], w.replies[over:]...)
	}
	c := w.clients[to.Target]
	w.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.write(wsMessage{Type: "reply", Text: text})
}

func (w *Webhook) closeClients() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}
