package supabase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	storage_go "github.com/supabase-community/storage-go"
)

// extractProjectRef extracts just the project reference ID from a Supabase URL
// From: akrqbuajqkirdekonpzy.supabase.co
// To: akrqbuajqkirdekonpzy
func extractProjectRef(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")

	parts := strings.Split(url, ".")
	return parts[0]
}

// isHostedURL reports whether url points at a *.supabase.co project rather
// than a self-hosted instance.
func isHostedURL(url string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	host = strings.SplitN(host, "/", 2)[0]
	return strings.HasSuffix(host, ".supabase.co")
}

// NewStorageClient returns a storage-go client for the project at url.
func NewStorageClient(url, serviceKey string) *storage_go.Client {
	endpoint := strings.TrimRight(url, "/") + "/storage/v1"
	slog.Info("Initializing Supabase storage client", "endpoint", endpoint)
	return storage_go.NewClient(endpoint, serviceKey, nil)
}

// NewAuthClient returns a gotrue client for the project at url. Self-hosted
// instances are addressed by their auth endpoint directly.
func NewAuthClient(url, serviceKey string) gotrue.Client {
	projectRef := extractProjectRef(url)
	client := gotrue.New(projectRef, serviceKey)
	if !isHostedURL(url) {
		client = client.WithCustomGoTrueURL(strings.TrimRight(url, "/") + "/auth/v1")
	}

	// Truncate key for logging to avoid exposing the full key
	truncatedKey := ""
	if len(serviceKey) > 10 {
		truncatedKey = serviceKey[:10] + "..."
	}
	slog.Info("Initializing Supabase auth client", "projectRef", projectRef, "key", truncatedKey)
	return client
}

// ErrInvalidSession is returned when Supabase rejects an access token.
var ErrInvalidSession = errors.New("invalid or expired session")

// IdentityResolver maps a Supabase access token to its user id.
type IdentityResolver struct {
	client gotrue.Client
}

func NewIdentityResolver(client gotrue.Client) *IdentityResolver {
	return &IdentityResolver{client: client}
}

func (r *IdentityResolver) ResolveUserID(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidSession
	}
	user, err := r.client.WithToken(token).GetUser()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if user == nil || user.ID == uuid.Nil {
		return "", ErrInvalidSession
	}
	return user.ID.String(), nil
}
