/*
Copyright 2025 The Rollout authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package client

import (
	"context"
	"net/http"
	"net/url"
)

// Register creates a new account.
func (c *Client) Register(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	return c.doJSON(ctx, http.MethodPost, "/auth/register", nil, body, nil)
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}
	var out struct {
		Result
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/login", nil, body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// Whoami returns the account behind the current credential.
func (c *Client) Whoami(ctx context.Context) (*User, error) {
	var out struct {
		Result
		Data User `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/user", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GenerateDomain asks the service for a fresh generated domain.
func (c *Client) GenerateDomain(ctx context.Context) (string, error) {
	var out struct {
		Result
		Domain string `json:"domain"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/generate-domain", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Domain, nil
}

// ValidateDomain checks that the given custom domain is available.
func (c *Client) ValidateDomain(ctx context.Context, domain string) error {
	q := url.Values{"domain": []string{domain}}
	return c.doJSON(ctx, http.MethodGet, "/validate-domain", q, nil, nil)
}

// Destroy removes the deployment served under the given domain.
func (c *Client) Destroy(ctx context.Context, domain string) error {
	body := map[string]string{"domain": domain}
	return c.doJSON(ctx, http.MethodPost, "/destroy", nil, body, nil)
}

// AddDomain attaches a custom domain to an existing deployment.
func (c *Client) AddDomain(ctx context.Context, domain, deployment string) error {
	body := map[string]string{"domain": domain, "deployment": deployment}
	return c.doJSON(ctx, http.MethodPost, "/domains", nil, body, nil)
}

// Deployments lists the releases for the given domain.
func (c *Client) Deployments(ctx context.Context, domain string) ([]Deployment, error) {
	q := url.Values{}
	if domain != "" {
		q.Set("domain", domain)
	}
	var out struct {
		Result
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/deployments", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Deployments, nil
}
