package services

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// SessionService owns admin authentication: password verification and the
// in-process session token table.
type SessionService struct {
	passwordHash   string
	plainPassword  string
	sessionTimeout time.Duration
	logger         *zap.Logger

	mu       sync.RWMutex
	sessions map[string]time.Time
}

func NewSessionService(passwordHash, plainPassword string, sessionTimeout time.Duration, logger *zap.Logger) *SessionService {
	return &SessionService{
		passwordHash:   passwordHash,
		plainPassword:  plainPassword,
		sessionTimeout: sessionTimeout,
		logger:         logger.With(zap.String("service", "session_service")),
		sessions:       make(map[string]time.Time),
	}
}

// Login verifies the admin password and mints a session token. A bcrypt
// hash takes precedence; the plaintext comparison exists for local
// development configs only.
func (s *SessionService) Login(password string) (string, error) {
	if password == "" {
		return "", ErrInvalidCredentials
	}

	if s.passwordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
			return "", ErrInvalidCredentials
		}
	} else if s.plainPassword == "" || password != s.plainPassword {
		return "", ErrInvalidCredentials
	}

	token := uuid.New().String()

	s.mu.Lock()
	s.sessions[token] = time.Now().Add(s.sessionTimeout)
	s.mu.Unlock()

	s.logger.Info("Admin session created")
	return token, nil
}

func (s *SessionService) Valid(token string) bool {
	if token == "" {
		return false
	}

	s.mu.RLock()
	expiry, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		s.Logout(token)
		return false
	}
	return true
}

func (s *SessionService) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}
