package authsdk

import (
	"context"
	"net/http"
)

// GetJWKS retrieves the JSON Web Key Set for token verification.
func (c *Client) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	var jwks JWKSResponse
	if err := c.doJSON(ctx, http.MethodGet, "/.well-known/jwks.json", "", nil, nil, &jwks); err != nil {
		return nil, err
	}
	return &jwks, nil
}
