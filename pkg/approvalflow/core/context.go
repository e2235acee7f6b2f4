package core

type ctxKey string

const (
	CtxKeyUsername ctxKey = ctxKey("username")
	CtxKeyAdmin    ctxKey = ctxKey("admin")
)
