package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/carma-ai/carma/internal/cache"
	"github.com/carma-ai/carma/internal/events"
	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/prompts"
	"github.com/carma-ai/carma/internal/providers/llm"
	"github.com/carma-ai/carma/internal/repositories"
	"github.com/carma-ai/carma/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// titleLength is how much of the first user message becomes the session
// title. Set once at creation, immutable thereafter.
const titleLength = 50

// Retriever is the grounding collaborator. Its result may be empty but its
// failure never fails a turn.
type Retriever interface {
	Retrieve(ctx context.Context, message, knowledgeID string, history []llm.Turn) *RetrievalContext
}

// ChatRequest is one inbound turn.
type ChatRequest struct {
	Message      string
	SessionID    string // empty = create a new session
	UserID       string
	Metadata     map[string]any
	UseGrounding bool
	KnowledgeID  string // empty = search all knowledge bases
}

// ChatConfig tunes the orchestrator.
type ChatConfig struct {
	// HistoryLimit is the number of recent messages loaded as context.
	HistoryLimit int
}

// ChatService drives one turn end to end: session resolution, history,
// user-turn persistence, retrieval, generation streaming, assistant-turn
// persistence, and the typed event sequence.
type ChatService struct {
	sessions  repositories.SessionRepository
	messages  repositories.MessageRepository
	retriever Retriever
	provider  llm.Provider
	cache     cache.Cache
	cfg       ChatConfig
	log       *logrus.Logger
}

func NewChatService(sessions repositories.SessionRepository, messages repositories.MessageRepository, retriever Retriever, provider llm.Provider, c cache.Cache, cfg ChatConfig, log *logrus.Logger) *ChatService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &ChatService{
		sessions:  sessions,
		messages:  messages,
		retriever: retriever,
		provider:  provider,
		cache:     c,
		cfg:       cfg,
		log:       log,
	}
}

// StreamChat executes one turn. Failures before anything is streamed (bad
// input, session creation, user-turn persistence) surface as the returned
// error; everything after is folded into the event stream. The channel is
// closed when the turn ends.
func (s *ChatService) StreamChat(ctx context.Context, req ChatRequest) (<-chan events.Event, error) {
	const op = "ChatService.StreamChat"

	if strings.TrimSpace(req.Message) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "message is required", nil)
	}

	isNew := req.SessionID == ""
	sessionID := req.SessionID
	if isNew {
		sessionID = uuid.NewString()
		title := deriveTitle(req.Message)
		var userID *string
		if req.UserID != "" {
			userID = &req.UserID
		}
		if _, err := s.sessions.Create(ctx, sessionID, userID, &title, req.Metadata); err != nil {
			return nil, utils.E(utils.CodePersistence, op, "failed to create session", err)
		}
		s.log.WithField("session_id", sessionID).Info("created new session")
	} else {
		sess, err := s.sessions.GetBySessionID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
			}
			return nil, utils.E(utils.CodePersistence, op, "failed to load session", err)
		}
		if sess.UserID != nil && *sess.UserID != req.UserID {
			return nil, utils.E(utils.CodeForbidden, op, "you do not have permission to access this session", nil)
		}
		if !sess.IsActive {
			return nil, utils.E(utils.CodeInvalidState, op, "session is inactive", nil)
		}
		// Access-time and metadata updates are best effort: a failed touch
		// must never cost the user their turn.
		if err := s.sessions.Touch(ctx, sessionID); err != nil {
			s.log.WithError(err).WithField("session_id", sessionID).Warn("failed to touch session")
		}
		if len(req.Metadata) > 0 {
			if err := s.sessions.MergeMetadata(ctx, sessionID, req.Metadata); err != nil {
				s.log.WithError(err).WithField("session_id", sessionID).Warn("failed to merge session metadata")
			}
		}
		s.invalidateSession(ctx, sessionID)
	}

	history := s.loadHistory(ctx, sessionID)

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleHuman,
		Content:   req.Message,
		CreatedAt: time.Now().UTC(),
		Metadata:  datatypes.JSONMap(req.Metadata),
	}
	if err := s.messages.Insert(ctx, userMsg); err != nil {
		// Without a durable record of the input, generation must not run.
		return nil, utils.E(utils.CodePersistence, op, "failed to persist user message", err)
	}

	assistantID := uuid.NewString()
	assistantCreatedAt := time.Now().UTC()

	ch := make(chan events.Event, 16)
	go s.runTurn(ctx, ch, req, turnState{
		sessionID:          sessionID,
		isNew:              isNew,
		history:            history,
		assistantID:        assistantID,
		assistantCreatedAt: assistantCreatedAt,
	})
	return ch, nil
}

type turnState struct {
	sessionID          string
	isNew              bool
	history            []llm.Turn
	assistantID        string
	assistantCreatedAt time.Time
}

func (s *ChatService) runTurn(ctx context.Context, ch chan<- events.Event, req ChatRequest, st turnState) {
	defer close(ch)

	log := s.log.WithField("session_id", st.sessionID)

	var rctx *RetrievalContext
	if req.UseGrounding && s.retriever != nil {
		rctx = s.retriever.Retrieve(ctx, req.Message, req.KnowledgeID, st.history)
	}

	if !s.emit(ctx, ch, sessionEvent(st, rctx)) {
		return
	}

	var contextText *string
	if rctx != nil {
		contextText = &rctx.ContextText
	}
	system := prompts.BuildSystemPrompt(contextText)
	turns := append(append([]llm.Turn{}, st.history...), llm.Turn{Role: models.RoleHuman, Content: req.Message})

	reply, usage, err := s.streamGeneration(ctx, ch, system, turns)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// Client went away mid-generation: a clean early stop, not an
			// error to report.
			log.Info("generation canceled by client")
			return
		}
		log.WithError(err).Error("generation failed")
		s.emit(ctx, ch, events.Error(err, "Failed to stream chat response"))
		return
	}

	// Delivery may have been interrupted after the reply was fully
	// accumulated; persistence still proceeds on a detached context.
	pctx := context.WithoutCancel(ctx)

	aiMsg := &models.Message{
		ID:        st.assistantID,
		SessionID: st.sessionID,
		Role:      models.RoleAI,
		Content:   reply,
		CreatedAt: st.assistantCreatedAt,
		Metadata:  datatypes.JSONMap(groundingMetadata(rctx)),
	}
	if usage != nil {
		aiMsg.InputTokens = usage.InputTokens
		aiMsg.OutputTokens = usage.OutputTokens
		aiMsg.TotalTokens = usage.TotalTokens
	}
	if err := s.messages.Insert(pctx, aiMsg); err != nil {
		// The streamed content already reached the client; report, don't
		// retract.
		log.WithError(err).Error("failed to persist assistant message")
		s.emit(ctx, ch, events.Error(err, "Failed to persist assistant message"))
	}

	count, err := s.messages.CountBySession(pctx, st.sessionID)
	if err != nil {
		log.WithError(err).Warn("failed to count session messages")
	}
	s.emit(ctx, ch, events.Complete(count))
}

// streamGeneration relays non-empty units as chunk events while accumulating
// the full reply and the closing usage report.
func (s *ChatService) streamGeneration(ctx context.Context, ch chan<- events.Event, system string, turns []llm.Turn) (string, *llm.TokenUsage, error) {
	chunks, errs := s.provider.Stream(ctx, system, turns)

	var b strings.Builder
	var usage *llm.TokenUsage
	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if c.Usage != nil {
				usage = c.Usage
			}
			if c.Text == "" {
				continue
			}
			b.WriteString(c.Text)
			// Keep accumulating even when the client is gone so a fully
			// generated reply can still be persisted.
			select {
			case ch <- events.Chunk(c.Text):
			case <-ctx.Done():
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return "", nil, utils.E(utils.CodeGeneration, "ChatService.streamGeneration", "generation stream failed", err)
			}
		case <-ctx.Done():
			if b.Len() > 0 && chunks == nil {
				return b.String(), usage, nil
			}
			return "", nil, ctx.Err()
		}
	}
	// A canceled context makes the provider close its channels before the
	// closing usage report; what accumulated is a truncated reply, not a
	// finished one.
	if ctx.Err() != nil && usage == nil {
		return "", nil, ctx.Err()
	}
	return b.String(), usage, nil
}

// loadHistory fetches the most recent turns oldest-first. Failure degrades to
// an empty history.
func (s *ChatService) loadHistory(ctx context.Context, sessionID string) []llm.Turn {
	rows, _, err := s.messages.ListBySession(ctx, sessionID, 1, s.cfg.HistoryLimit, false)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("failed to load history, continuing without it")
		return nil
	}

	// ListBySession returned newest-first; flip back to conversation order.
	turns := make([]llm.Turn, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		turns = append(turns, llm.Turn{Role: rows[i].Role, Content: rows[i].Content})
	}
	return turns
}

func (s *ChatService) emit(ctx context.Context, ch chan<- events.Event, ev events.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *ChatService) invalidateSession(ctx context.Context, sessionID string) {
	if err := s.cache.Del(ctx, sessionCacheKey(sessionID)); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("session cache invalidation failed")
	}
}

func sessionEvent(st turnState, rctx *RetrievalContext) events.Event {
	data := events.SessionData{
		SessionID:        st.sessionID,
		IsNew:            st.isNew,
		MessageID:        st.assistantID,
		MessageCreatedAt: st.assistantCreatedAt,
	}
	if rctx != nil {
		refs := make([]string, 0, len(rctx.References))
		for _, r := range rctx.References {
			if r.SourceURL != nil && *r.SourceURL != "" {
				refs = append(refs, *r.SourceURL)
			} else {
				refs = append(refs, r.FileName)
			}
		}
		count := len(rctx.Documents)
		data.References = refs
		data.DocumentCount = &count
		data.KnowledgeIDsSearched = rctx.KnowledgeIDsSearched
	}
	return events.Session(data)
}

func groundingMetadata(rctx *RetrievalContext) map[string]any {
	if rctx == nil {
		return map[string]any{"rag_enabled": false}
	}
	ids := make([]string, 0, len(rctx.References))
	for _, r := range rctx.References {
		ids = append(ids, r.DocumentID)
	}
	return map[string]any{
		"rag_enabled":            true,
		"knowledge_ids_searched": rctx.KnowledgeIDsSearched,
		"reference_document_ids": ids,
		"context_length":         len(rctx.ContextText),
		"query_count":            rctx.QueryCount,
	}
}

func deriveTitle(message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) > titleLength {
		runes = runes[:titleLength]
	}
	return string(runes)
}
