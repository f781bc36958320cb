package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raeldev/apihub/internal/fault"
	"github.com/raeldev/apihub/internal/store"
	"github.com/raeldev/apihub/internal/upstream"
)

// Registry mediates between callers and a chat upstream that requires a
// two-step handshake: scrape a nonce from the page, then post messages
// tagged with the nonce and locally minted session/conversation IDs.
type Registry struct {
	connector upstream.Connector
	sessions  *store.Store[Session]
	models    map[string]string
	greeter   Greeter
	logger    *slog.Logger

	pageURL string
	ajaxURL string
	action  string
	postID  string
	idleMax time.Duration
	now     func() time.Time
}

// Option configures the Registry.
type Option func(*Registry)

// WithModels replaces the model allow-list.
func WithModels(models map[string]string) Option {
	return func(r *Registry) { r.models = models }
}

// WithGreeter sets the greeting-selection strategy.
func WithGreeter(g Greeter) Option {
	return func(r *Registry) { r.greeter = g }
}

// WithIdleMax sets the idle threshold past which sessions are invalid.
func WithIdleMax(d time.Duration) Option {
	return func(r *Registry) { r.idleMax = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock replaces the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
		r.sessions.SetClock(now)
	}
}

// NewRegistry creates a session registry against the chat upstream rooted at
// pageURL, posting messages to ajaxURL.
func NewRegistry(connector upstream.Connector, pageURL, ajaxURL string, opts ...Option) *Registry {
	r := &Registry{
		connector: connector,
		sessions:  store.New[Session](),
		models:    DefaultModels(),
		greeter:   NewStandardGreeter(),
		logger:    slog.Default(),
		pageURL:   pageURL,
		ajaxURL:   ajaxURL,
		action:    "aipkit_frontend_chat_message",
		postID:    "6",
		idleMax:   DefaultIdleMax,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitSession validates the model, performs the nonce handshake, sends the
// greeting, and stores the resulting session.
func (r *Registry) InitSession(ctx context.Context, model, greeting string) (*SessionInfo, error) {
	botID, ok := r.models[model]
	if !ok {
		return nil, fault.New(fault.KindInvalidModel,
			"unknown model %q, available: %s", model, strings.Join(r.AvailableModels(), ", "))
	}
	if greeting == "" {
		greeting = r.greeter.Greeting()
	}

	nonce, err := r.fetchNonce(ctx)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	conversationID := uuid.NewString()

	reply, err := r.postMessage(ctx, botID, nonce, sessionID, conversationID, greeting)
	if err != nil {
		return nil, err
	}

	sess := Session{
		SessionID:      sessionID,
		ConversationID: conversationID,
		Nonce:          nonce,
		Model:          model,
		MessageCount:   1,
		Persona:        r.greeter.Persona(),
	}
	r.sessions.Put(sessionID, sess)

	r.logger.Info("chat session initialized",
		"session_id", sessionID, "model", model, "persona", sess.Persona)

	return &SessionInfo{
		SessionID:      sessionID,
		ConversationID: conversationID,
		Model:          model,
		Greeting:       reply,
		Persona:        sess.Persona,
	}, nil
}

// ContinueChat sends a message in an existing session. An expired or unknown
// session ID fails with SessionNotFound; an authentication-class upstream
// failure evicts the session immediately so a dead nonce is never reused.
func (r *Registry) ContinueChat(ctx context.Context, message, sessionID string) (*Reply, error) {
	if message == "" {
		return nil, fault.New(fault.KindInvalidParameter, "message is required")
	}

	rec, ok := r.sessions.GetFresh(sessionID, r.idleMax)
	if !ok {
		return nil, fault.New(fault.KindSessionNotFound, "session %q not found or expired", sessionID).
			WithMeta("suggestion", "omit the session id to start a new session")
	}
	sess := rec.Payload

	botID, ok := r.models[sess.Model]
	if !ok {
		return nil, fault.New(fault.KindInvalidModel, "session model %q no longer supported", sess.Model)
	}

	text, err := r.postMessage(ctx, botID, sess.Nonce, sess.SessionID, sess.ConversationID, message)
	if err != nil {
		if isAuthFailure(err) {
			r.sessions.Delete(sessionID)
			r.logger.Warn("session evicted after auth failure", "session_id", sessionID)
			return nil, fault.Wrap(fault.KindAuthExpired, err, "session credential rejected by upstream")
		}
		return nil, err
	}

	count := sess.MessageCount + 1
	r.sessions.Update(sessionID, func(s *Session) { s.MessageCount = count })

	return &Reply{
		Text:           text,
		SessionID:      sess.SessionID,
		ConversationID: sess.ConversationID,
		Model:          sess.Model,
		MessageCount:   count,
	}, nil
}

// ChatOptions selects the model for the one-shot entry points.
type ChatOptions struct {
	Model string
}

// ChatWithGreeting initializes a session using the configured greeter and
// follows up with the caller's message. An init failure short-circuits.
func (r *Registry) ChatWithGreeting(ctx context.Context, message string, opts ChatOptions) (*Reply, error) {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	info, err := r.InitSession(ctx, model, "")
	if err != nil {
		return nil, err
	}

	return r.ContinueChat(ctx, message, info.SessionID)
}

// DirectChat is the stateless one-shot: nonce fetch plus a single message
// post under throwaway IDs, with no registry entry.
func (r *Registry) DirectChat(ctx context.Context, message string, opts ChatOptions) (*Reply, error) {
	if message == "" {
		return nil, fault.New(fault.KindInvalidParameter, "message is required")
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	botID, ok := r.models[model]
	if !ok {
		return nil, fault.New(fault.KindInvalidModel,
			"unknown model %q, available: %s", model, strings.Join(r.AvailableModels(), ", "))
	}

	nonce, err := r.fetchNonce(ctx)
	if err != nil {
		return nil, err
	}

	text, err := r.postMessage(ctx, botID, nonce, uuid.NewString(), uuid.NewString(), message)
	if err != nil {
		return nil, err
	}

	return &Reply{Text: text, Model: model}, nil
}

// SessionAge returns seconds since the session's last activity. The second
// result is false for unknown IDs.
func (r *Registry) SessionAge(sessionID string) (int, bool) {
	rec, ok := r.sessions.GetFresh(sessionID, r.idleMax)
	if !ok {
		return 0, false
	}
	return int(r.now().Sub(rec.LastActivity).Seconds()), true
}

// MessagesCount returns the number of messages sent in the session.
func (r *Registry) MessagesCount(sessionID string) (int, bool) {
	rec, ok := r.sessions.GetFresh(sessionID, r.idleMax)
	if !ok {
		return 0, false
	}
	return rec.Payload.MessageCount, true
}

// ActiveSessionCount returns the number of stored sessions.
func (r *Registry) ActiveSessionCount() int {
	return r.sessions.Len()
}

// ListSessions returns a summary of every stored session, sorted by most
// recent activity first. Stale sessions still awaiting the sweeper are
// included; their age makes the staleness visible.
func (r *Registry) ListSessions() []SessionSummary {
	recs := r.sessions.SnapshotRecords()
	now := r.now()

	out := make([]SessionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SessionSummary{
			SessionID:    rec.Payload.SessionID,
			Model:        rec.Payload.Model,
			LastActivity: rec.LastActivity,
			AgeSeconds:   int(now.Sub(rec.LastActivity).Seconds()),
			MessageCount: rec.Payload.MessageCount,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// EndSession drops a session. Returns false if the ID was unknown.
func (r *Registry) EndSession(sessionID string) bool {
	if _, ok := r.sessions.Get(sessionID); !ok {
		return false
	}
	r.sessions.Delete(sessionID)
	r.logger.Info("chat session ended", "session_id", sessionID)
	return true
}

// ModelID returns the upstream bot ID behind a model name.
func (r *Registry) ModelID(model string) (string, bool) {
	id, ok := r.models[model]
	return id, ok
}

// AvailableModels returns the sorted allow-list.
func (r *Registry) AvailableModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CleanupSessions removes sessions idle past maxAge and returns the count.
func (r *Registry) CleanupSessions(maxAge time.Duration) int {
	return r.sessions.Sweep(maxAge)
}

// Sweep removes sessions idle past the registry's own threshold.
func (r *Registry) Sweep() int {
	return r.CleanupSessions(r.idleMax)
}

func (r *Registry) fetchNonce(ctx context.Context) (string, error) {
	html, err := r.connector.FetchPage(ctx, r.pageURL)
	if err != nil {
		return "", err
	}
	nonce := upstream.ExtractNonce(html)
	if nonce == "" {
		return "", fault.New(fault.KindNonceNotFound, "nonce not found in %s", r.pageURL)
	}
	return nonce, nil
}

// ajaxReply is the payload shape the chat plugin answers form posts with.
type ajaxReply struct {
	Success bool `json:"success"`
	Data    struct {
		Reply string `json:"reply"`
		Error string `json:"error"`
	} `json:"data"`
}

func (r *Registry) postMessage(ctx context.Context, botID, nonce, sessionID, conversationID, message string) (string, error) {
	fields := url.Values{
		"action":            {r.action},
		"_ajax_nonce":       {nonce},
		"bot_id":            {botID},
		"session_id":        {sessionID},
		"conversation_uuid": {conversationID},
		"post_id":           {r.postID},
		"message":           {message},
	}

	body, err := r.connector.PostForm(ctx, r.ajaxURL, fields, nil)
	if err != nil {
		return "", err
	}

	var reply ajaxReply
	if err := json.Unmarshal(body, &reply); err != nil {
		// Some upstreams answer with an SSE transcript instead of JSON.
		if strings.Contains(string(body), "data: ") {
			return upstream.FlattenSSE(string(body)), nil
		}
		return "", fault.New(fault.KindUpstreamInvalidResponse, "unparseable reply from upstream")
	}

	if !reply.Success || reply.Data.Reply == "" {
		msg := reply.Data.Error
		if msg == "" {
			msg = "missing reply field"
		}
		if isAuthSignal(msg) {
			return "", fault.New(fault.KindAuthExpired, "upstream rejected message: %s", msg)
		}
		return "", fault.New(fault.KindUpstreamInvalidResponse, "invalid response structure from upstream: %s", msg)
	}

	return reply.Data.Reply, nil
}

// isAuthFailure classifies an error as authentication-related: a typed
// AuthExpired fault or an expiry/nonce/403 signal in the message.
func isAuthFailure(err error) bool {
	if fault.IsKind(err, fault.KindAuthExpired) {
		return true
	}
	return isAuthSignal(err.Error())
}

func isAuthSignal(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "expired") ||
		strings.Contains(lower, "nonce") ||
		strings.Contains(lower, "403")
}
