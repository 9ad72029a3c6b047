// Package secrets resolves plaintext credential values from Google Secret
// Manager by fully-qualified secret version name. Resolution failures of any
// kind (missing secret, missing permission, resolver unreachable) surface as
// ErrSecretUnavailable so callers can retry on the next request.
package secrets

import (
	"context"
	"errors"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/status"
)

// ErrSecretUnavailable indicates a secret could not be resolved. The
// condition is recoverable: a later attempt may succeed once the secret
// exists, access is granted, or the resolver is reachable again.
var ErrSecretUnavailable = errors.New("secret unavailable")

// Resolver resolves a secret version name to its plaintext payload.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// accessor is the slice of the Secret Manager client the resolver uses.
// Tests substitute a fake; production uses *secretmanager.Client.
type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// ManagerResolver resolves secrets through the Secret Manager API.
type ManagerResolver struct {
	client accessor
}

// NewManagerResolver creates a resolver backed by a real Secret Manager
// client using Application Default Credentials. The returned cleanup
// function closes the underlying client connection.
func NewManagerResolver(ctx context.Context) (*ManagerResolver, func() error, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, func() error { return nil }, fmt.Errorf("creating secret manager client: %w", err)
	}
	return &ManagerResolver{client: client}, client.Close, nil
}

// Resolve accesses one secret version and returns its payload as a string.
// The error message names the secret version, never its value.
func (r *ManagerResolver) Resolve(ctx context.Context, name string) (string, error) {
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("accessing %s (%s): %w", name, status.Code(err), ErrSecretUnavailable)
	}
	return string(resp.GetPayload().GetData()), nil
}
