package api

import (
	"context"

	"github.com/org/phigate/pkg/models"
)

type contextKey string

const (
	ctxKeySession   contextKey = "session"
	ctxKeyRequestID contextKey = "request_id"
)

func withSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

func sessionFromCtx(ctx context.Context) *models.Session {
	s, _ := ctx.Value(ctxKeySession).(*models.Session)
	return s
}

func actorFromCtx(ctx context.Context) models.Actor {
	if s := sessionFromCtx(ctx); s != nil {
		return s.Actor()
	}
	return models.Actor{}
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
