package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/fridaybazar/bazar/pkg/logger"
)

const limiterCacheSize = 10000

// RateLimiter is a per-user token bucket. Admins are never limited.
type RateLimiter struct {
	logger  *logger.Logger
	isAdmin func(int64) bool

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *lru.Cache
}

// NewRateLimiter allows messages per window for each user.
func NewRateLimiter(messages int, window time.Duration, isAdmin func(int64) bool, logger *logger.Logger) (*RateLimiter, error) {
	cache, err := lru.New(limiterCacheSize)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		logger:   logger,
		isAdmin:  isAdmin,
		limit:    rate.Every(window / time.Duration(messages)),
		burst:    messages,
		limiters: cache,
	}, nil
}

func (l *RateLimiter) Allow(userID int64) bool {
	return l.AllowAt(userID, time.Now())
}

func (l *RateLimiter) AllowAt(userID int64, now time.Time) bool {
	if l.isAdmin != nil && l.isAdmin(userID) {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(userID, limiter)
	}
	return limiter.(*rate.Limiter).AllowN(now, 1)
}

// Middleware drops updates from users over their limit.
func (l *RateLimiter) Middleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *tgModels.Update) {
		userID := senderID(update)
		if userID != 0 && !l.Allow(userID) {
			l.logger.Debug("Rate limited update", "user_id", userID)
			return
		}
		next(ctx, b, update)
	}
}

func senderID(update *tgModels.Update) int64 {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From.ID
	}
	return 0
}
