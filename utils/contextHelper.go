package utils

import (
	"context"

	"github.com/mmdatafocus/eventchain/appctx"
)

var (
	ContextKeyBusinessProfileId = appctx.ContextKeyBusinessProfileId
	ContextKeyUserId            = appctx.ContextKeyUserId
	ContextKeyUserName          = appctx.ContextKeyUserName
	ContextKeyCorrelationId     = appctx.ContextKeyCorrelationId

	ContextKeyIsAdmin         = appctx.ContextKeyIsAdmin
	ContextKeySkipTenantScope = appctx.ContextKeySkipTenantScope
)

func GetBusinessProfileIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyBusinessProfileId)
}

func GetUserIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetBusinessProfileIdInContext(ctx context.Context, profileId string) context.Context {
	return appctx.Set(ctx, ContextKeyBusinessProfileId, profileId)
}

func SetUserIdInContext(ctx context.Context, userId string) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetIsAdminFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeyIsAdmin)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsAdmin, isAdmin)
}

func SetSkipTenantScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipTenantScope, skip)
}

// ActorFromContext returns the acting user id and display name, falling back to "system"
// for worker and batch paths that carry no user.
func ActorFromContext(ctx context.Context) (string, string) {
	id, _ := GetUserIdFromContext(ctx)
	name, _ := GetUserNameFromContext(ctx)
	if id == "" {
		id = "system"
	}
	if name == "" {
		name = id
	}
	return id, name
}
