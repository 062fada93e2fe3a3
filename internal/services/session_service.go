package services

import (
	"context"
	"errors"
	"time"

	"github.com/carma-ai/carma/internal/cache"
	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/repositories"
	"github.com/carma-ai/carma/internal/utils"
	"github.com/sirupsen/logrus"
)

const sessionCacheTTL = 5 * time.Minute

// SessionService is the session/message store surface: validation, ownership
// checks, and a read-through cache over the durable repositories.
type SessionService interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	// GetOwned is Get plus the ownership and (optionally) active checks used
	// by every session-scoped endpoint.
	GetOwned(ctx context.Context, sessionID, userID string, requireActive bool) (*models.Session, error)
	List(ctx context.Context, userID string, activeOnly bool, page, perPage int) ([]models.Session, repositories.PageInfo, error)
	Deactivate(ctx context.Context, sessionID string) (bool, error)
	DeletePermanently(ctx context.Context, sessionID string) (bool, error)
	Messages(ctx context.Context, sessionID string, page, perPage int, ascending bool) ([]models.Message, repositories.PageInfo, error)
	SetReaction(ctx context.Context, messageID, sessionID, reaction string) (*models.Message, error)
	Stats(ctx context.Context) (*repositories.SessionStats, error)
}

type sessionService struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	cache    cache.Cache
	log      *logrus.Logger
}

func NewSessionService(sessions repositories.SessionRepository, messages repositories.MessageRepository, c cache.Cache, log *logrus.Logger) SessionService {
	if c == nil {
		c = cache.Noop{}
	}
	return &sessionService{sessions: sessions, messages: messages, cache: c, log: log}
}

func sessionCacheKey(sessionID string) string { return "session:" + sessionID }

func (s *sessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "SessionService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	var cached models.Session
	if hit, err := s.cache.GetJSON(ctx, sessionCacheKey(sessionID), &cached); err == nil && hit {
		return &cached, nil
	} else if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("session cache read failed")
	}

	out, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodePersistence, op, "failed to get session", err)
	}

	if err := s.cache.SetJSON(ctx, sessionCacheKey(sessionID), out, sessionCacheTTL); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("session cache write failed")
	}
	return out, nil
}

func (s *sessionService) GetOwned(ctx context.Context, sessionID, userID string, requireActive bool) (*models.Session, error) {
	const op = "SessionService.GetOwned"

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != nil && *sess.UserID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "you do not have permission to access this session", nil)
	}
	if requireActive && !sess.IsActive {
		return nil, utils.E(utils.CodeInvalidState, op, "session is inactive", nil)
	}
	return sess, nil
}

func (s *sessionService) List(ctx context.Context, userID string, activeOnly bool, page, perPage int) ([]models.Session, repositories.PageInfo, error) {
	const op = "SessionService.List"

	if userID == "" {
		return nil, repositories.PageInfo{}, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	rows, info, err := s.sessions.List(ctx, userID, activeOnly, page, perPage)
	if err != nil {
		return nil, repositories.PageInfo{}, utils.E(utils.CodePersistence, op, "failed to list sessions", err)
	}
	return rows, info, nil
}

func (s *sessionService) Deactivate(ctx context.Context, sessionID string) (bool, error) {
	const op = "SessionService.Deactivate"

	ok, err := s.sessions.Deactivate(ctx, sessionID)
	if err != nil {
		return false, utils.E(utils.CodePersistence, op, "failed to deactivate session", err)
	}
	s.invalidate(ctx, sessionID)
	return ok, nil
}

func (s *sessionService) DeletePermanently(ctx context.Context, sessionID string) (bool, error) {
	const op = "SessionService.DeletePermanently"

	ok, err := s.sessions.DeletePermanently(ctx, sessionID)
	if err != nil {
		return false, utils.E(utils.CodePersistence, op, "failed to delete session", err)
	}
	s.invalidate(ctx, sessionID)
	if ok {
		s.log.WithField("session_id", sessionID).Info("permanently deleted session")
	}
	return ok, nil
}

func (s *sessionService) Messages(ctx context.Context, sessionID string, page, perPage int, ascending bool) ([]models.Message, repositories.PageInfo, error) {
	const op = "SessionService.Messages"

	rows, info, err := s.messages.ListBySession(ctx, sessionID, page, perPage, ascending)
	if err != nil {
		return nil, repositories.PageInfo{}, utils.E(utils.CodePersistence, op, "failed to list messages", err)
	}
	return rows, info, nil
}

func (s *sessionService) SetReaction(ctx context.Context, messageID, sessionID, reaction string) (*models.Message, error) {
	const op = "SessionService.SetReaction"

	if !models.ValidReaction(reaction) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "reaction must be 'like' or 'dislike'", nil)
	}

	msg, err := s.messages.GetByID(ctx, messageID, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "message not found in session", err)
		}
		return nil, utils.E(utils.CodePersistence, op, "failed to load message", err)
	}
	if msg.Role != models.RoleAI {
		return nil, utils.E(utils.CodeInvalidState, op, "reactions are only allowed on ai messages", nil)
	}

	out, err := s.messages.SetReaction(ctx, messageID, sessionID, reaction)
	if err != nil {
		return nil, utils.E(utils.CodePersistence, op, "failed to set reaction", err)
	}
	return out, nil
}

func (s *sessionService) Stats(ctx context.Context) (*repositories.SessionStats, error) {
	const op = "SessionService.Stats"

	out, err := s.sessions.Stats(ctx)
	if err != nil {
		return nil, utils.E(utils.CodePersistence, op, "failed to compute stats", err)
	}
	return out, nil
}

func (s *sessionService) invalidate(ctx context.Context, sessionID string) {
	if err := s.cache.Del(ctx, sessionCacheKey(sessionID)); err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Warn("session cache invalidation failed")
	}
}
