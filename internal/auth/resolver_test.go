package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/models"
)

type fakeTenantStore struct {
	tenants    map[string]*models.Tenant // by id
	byHost     map[string]*models.Tenant
	bySub      map[string]*models.Tenant
	principals map[string]*models.Principal // by token
}

func (f *fakeTenantStore) GetTenantByVirtualHost(_ context.Context, host string) (*models.Tenant, error) {
	return f.byHost[host], nil
}

func (f *fakeTenantStore) GetTenantBySubdomain(_ context.Context, sub string) (*models.Tenant, error) {
	return f.bySub[sub], nil
}

func (f *fakeTenantStore) GetTenantByID(_ context.Context, id string) (*models.Tenant, error) {
	return f.tenants[id], nil
}

func (f *fakeTenantStore) GetPrincipalByToken(_ context.Context, token string) (*models.Principal, error) {
	return f.principals[token], nil
}

func newFakeStore() *fakeTenantStore {
	acme := &models.Tenant{TenantID: "acme", Name: "Acme Media", Subdomain: "acme", VirtualHost: "ads.acme.example", Active: true}
	other := &models.Tenant{TenantID: "other", Name: "Other", Subdomain: "other", Active: true}
	return &fakeTenantStore{
		tenants: map[string]*models.Tenant{"acme": acme, "other": other},
		byHost:  map[string]*models.Tenant{"ads.acme.example": acme},
		bySub:   map[string]*models.Tenant{"acme": acme, "other": other},
		principals: map[string]*models.Principal{
			"tok_acme_buyer": {TenantID: "acme", PrincipalID: "buyer_1", Name: "Buyer One", AccessToken: "tok_acme_buyer"},
		},
	}
}

func TestResolveVirtualHostWins(t *testing.T) {
	r := &Resolver{Store: newFakeStore()}
	ctx := WithHeaders(context.Background(), RequestHeaders{
		AuthToken:    "tok_acme_buyer",
		IncomingHost: "ads.acme.example",
		Host:         "other.sales.example.com",
	})
	rc, aerr := r.Resolve(ctx, "get_products", true)
	require.Nil(t, aerr)
	assert.Equal(t, "acme", rc.Tenant.TenantID)
	assert.Equal(t, "buyer_1", rc.PrincipalID())
}

func TestResolveSubdomainFallback(t *testing.T) {
	r := &Resolver{Store: newFakeStore()}
	ctx := WithHeaders(context.Background(), RequestHeaders{
		AuthToken: "tok_acme_buyer",
		Host:      "acme.sales.example.com:8080",
	})
	rc, aerr := r.Resolve(ctx, "get_products", true)
	require.Nil(t, aerr)
	assert.Equal(t, "acme", rc.Tenant.TenantID)
}

func TestResolveTenantTag(t *testing.T) {
	r := &Resolver{Store: newFakeStore()}
	ctx := WithHeaders(context.Background(), RequestHeaders{
		AuthToken: "tok_acme_buyer",
		Host:      "localhost:8080",
		TenantTag: "acme",
	})
	rc, aerr := r.Resolve(ctx, "get_products", true)
	require.Nil(t, aerr)
	assert.Equal(t, "acme", rc.Tenant.TenantID)
}

func TestResolveUnknownToken(t *testing.T) {
	r := &Resolver{Store: newFakeStore()}
	ctx := WithHeaders(context.Background(), RequestHeaders{
		AuthToken: "tok_bogus",
		Host:      "acme.sales.example.com",
	})
	_, aerr := r.Resolve(ctx, "create_media_buy", true)
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeAuthentication, aerr.Code)
}

func TestResolveTokenTenantMismatch(t *testing.T) {
	r := &Resolver{Store: newFakeStore()}
	ctx := WithHeaders(context.Background(), RequestHeaders{
		AuthToken: "tok_acme_buyer",
		Host:      "other.sales.example.com",
	})
	_, aerr := r.Resolve(ctx, "create_media_buy", true)
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeAuthentication, aerr.Code)
}

func TestResolveMissingTokenRequired(t *testing.T) {
	r := &Resolver{Store: newFakeStore()}
	ctx := WithHeaders(context.Background(), RequestHeaders{Host: "acme.sales.example.com"})
	_, aerr := r.Resolve(ctx, "create_media_buy", true)
	require.NotNil(t, aerr)
	assert.Equal(t, adcp.CodeAuthentication, aerr.Code)
}

func TestResolveDiscoveryWithoutToken(t *testing.T) {
	r := &Resolver{Store: newFakeStore()}
	ctx := WithHeaders(context.Background(), RequestHeaders{Host: "acme.sales.example.com"})
	rc, aerr := r.Resolve(ctx, "list_authorized_properties", false)
	require.Nil(t, aerr)
	assert.Equal(t, "acme", rc.Tenant.TenantID)
	assert.Empty(t, rc.PrincipalID())
}

func TestDryRunHonoredOnlyWithTestingEnabled(t *testing.T) {
	headers := RequestHeaders{AuthToken: "tok_acme_buyer", Host: "acme.sales.example.com", DryRun: true}

	off := &Resolver{Store: newFakeStore()}
	rc, aerr := off.Resolve(WithHeaders(context.Background(), headers), "create_media_buy", true)
	require.Nil(t, aerr)
	assert.False(t, rc.Testing.DryRun)

	on := &Resolver{Store: newFakeStore(), TestingEnabled: true}
	rc, aerr = on.Resolve(WithHeaders(context.Background(), headers), "create_media_buy", true)
	require.Nil(t, aerr)
	assert.True(t, rc.Testing.DryRun)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "abc", BearerToken("abc"))
}

func TestSubdomainLabel(t *testing.T) {
	assert.Equal(t, "acme", subdomainLabel("acme.sales.example.com"))
	assert.Equal(t, "acme", subdomainLabel("acme.sales.example.com:8080"))
	assert.Equal(t, "", subdomainLabel("example.com"))
	assert.Equal(t, "", subdomainLabel("localhost:8080"))
}
