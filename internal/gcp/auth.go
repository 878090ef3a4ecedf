// Package gcp holds what the Google Cloud SDK clients share: credentials,
// endpoints and error classification.
package gcp

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// ScopeCloudPlatform grants access to Document AI and Cloud Storage.
const ScopeCloudPlatform = "https://www.googleapis.com/auth/cloud-platform"

// ClientOptions returns SDK options for the credentials file and endpoint.
// An empty credentials file leaves the SDK on Application Default
// Credentials; an empty endpoint keeps the service default.
func ClientOptions(ctx context.Context, credentialsFile, endpoint string) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, eris.Wrapf(err, "gcp: read credentials %s", credentialsFile)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, ScopeCloudPlatform)
		if err != nil {
			return nil, eris.Wrap(err, "gcp: parse credentials")
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts, nil
}
