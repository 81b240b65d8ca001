// Package share publishes a finished report under a stable public alias
// (served as /s/{alias}) and optionally a bit.ly short link.
package share

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/raysh454/perfsandbox/internal/logging"
)

// Link is what a published report is reachable under.
type Link struct {
	Alias     string `json:"alias"`
	PublicURL string `json:"publicUrl"`
	ShortURL  string `json:"shortUrl"`
}

// Publisher makes a run's report reachable from outside.
type Publisher interface {
	Publish(ctx context.Context, sessionID, targetURL string) (*Link, error)
}

// Service is the default Publisher: an alias row in the Store plus an
// optional Shortener. A shortener failure falls back to the public URL.
type Service struct {
	store     *Store
	shortener Shortener
	baseURL   string
	logger    logging.Logger
}

// NewService builds a Service. shortener may be nil.
func NewService(store *Store, shortener Shortener, publicBaseURL string, logger logging.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("share: store is nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:     store,
		shortener: shortener,
		baseURL:   strings.TrimRight(publicBaseURL, "/"),
		logger:    logger.With(logging.F("component", "share")),
	}, nil
}

const aliasAttempts = 3

func (s *Service) Publish(ctx context.Context, sessionID, targetURL string) (*Link, error) {
	if targetURL == "" {
		return nil, errors.New("share: target url is empty")
	}

	var alias string
	for i := 0; ; i++ {
		alias = newAlias()
		err := s.store.Create(ctx, Share{Alias: alias, SessionID: sessionID, TargetURL: targetURL})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicate) || i+1 >= aliasAttempts {
			return nil, fmt.Errorf("share: %w", err)
		}
	}

	link := &Link{Alias: alias, PublicURL: s.baseURL + "/s/" + alias}
	link.ShortURL = link.PublicURL
	if s.shortener != nil {
		short, err := s.shortener.Shorten(ctx, link.PublicURL)
		if err != nil {
			s.logger.Warn("shortening failed, using public url", logging.F("alias", alias), logging.Err(err))
		} else {
			link.ShortURL = short
			if err := s.store.SetShortURL(ctx, alias, short); err != nil {
				s.logger.Warn("recording short url", logging.F("alias", alias), logging.Err(err))
			}
		}
	}

	s.logger.Info("report shared",
		logging.F("session_id", sessionID),
		logging.F("alias", alias),
		logging.F("short_url", link.ShortURL))
	return link, nil
}

// Resolve returns the target of alias.
func (s *Service) Resolve(ctx context.Context, alias string) (string, error) {
	sh, err := s.store.Get(ctx, alias)
	if err != nil {
		return "", err
	}
	return sh.TargetURL, nil
}

// Forget drops the aliases of a session whose artifacts are gone.
func (s *Service) Forget(ctx context.Context, sessionID string) error {
	n, err := s.store.DeleteBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("shares removed", logging.F("session_id", sessionID), logging.F("count", n))
	}
	return nil
}

func newAlias() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}
