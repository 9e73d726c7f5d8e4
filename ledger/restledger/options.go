// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package restledger

import (
	"log/slog"
	"net/http"

	"github.com/blinklabs-io/landregistry/ledger"
)

type ClientOptionFunc func(*Client)

func WithLogger(logger *slog.Logger) ClientOptionFunc {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBaseURL sets the full node REST endpoint, for example
// https://fullnode.testnet.aptoslabs.com
func WithBaseURL(baseURL string) ClientOptionFunc {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithModule(module ledger.Module) ClientOptionFunc {
	return func(c *Client) {
		c.module = module
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOptionFunc {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sends the key as a bearer token on every request
func WithAPIKey(apiKey string) ClientOptionFunc {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}
