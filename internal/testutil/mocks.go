package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dgellow/auth-front/internal/idp"
)

// MockIDPClient is a testify mock of idp.Client
type MockIDPClient struct {
	mock.Mock
}

var _ idp.Client = (*MockIDPClient)(nil)

func (m *MockIDPClient) AuthorizationURL(ctx context.Context, params idp.AuthorizationParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *MockIDPClient) ExchangeCode(ctx context.Context, code, verifier string) (*idp.TokenSet, error) {
	args := m.Called(ctx, code, verifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.TokenSet), args.Error(1)
}

func (m *MockIDPClient) Refresh(ctx context.Context, refreshToken string) (*idp.TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.TokenSet), args.Error(1)
}

func (m *MockIDPClient) EndSessionURL(ctx context.Context, idTokenHint, postLogoutRedirect string) (string, error) {
	args := m.Called(ctx, idTokenHint, postLogoutRedirect)
	return args.String(0), args.Error(1)
}
