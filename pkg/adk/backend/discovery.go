package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// DiscoverCatalog fetches the action listing of a CRM server and rebuilds a
// published catalog from it. It only reads, so it may be called at the start
// of every session. When constraint is set the remote version must satisfy it.
func DiscoverCatalog(ctx context.Context, client *http.Client, baseURL, constraint string) (*catalog.Catalog, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	u, err := url.JoinPath(baseURL, "/actions")
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", baseURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &adkerrors.BackendUnavailableError{Action: "discover", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &adkerrors.BackendUnavailableError{Action: "discover", Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var listing Listing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode action listing: %w", err)
	}
	return FromListing(listing, constraint)
}

// FromListing builds a published catalog from a discovery document.
func FromListing(listing Listing, constraint string) (*catalog.Catalog, error) {
	cat, err := catalog.New(listing.Version)
	if err != nil {
		return nil, err
	}
	if constraint != "" {
		ok, err := cat.Compatible(constraint)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("remote catalog version %s does not satisfy %s", listing.Version, constraint)
		}
	}
	for _, s := range listing.Actions {
		if err := cat.Register(s); err != nil {
			return nil, err
		}
	}
	cat.Publish()

	if listing.Fingerprint != "" {
		fp, err := cat.Fingerprint()
		if err != nil {
			return nil, err
		}
		if fp != listing.Fingerprint {
			return nil, fmt.Errorf("catalog fingerprint mismatch: got %s, listing says %s", fp, listing.Fingerprint)
		}
	}
	return cat, nil
}
