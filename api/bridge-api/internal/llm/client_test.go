// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridgeai/pkg/commons"
)

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(commons.NewApplicationLogger(), Config{})
	assert.Error(t, err)
}

func TestReplySendsSystemPromptAndHistory(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"text": "Sure, one moment."})
	}))
	defer srv.Close()

	cli, err := NewClient(commons.NewApplicationLogger(), Config{
		URL:          srv.URL,
		Model:        "local-chat",
		SystemPrompt: "You are a concise phone agent.",
	})
	require.NoError(t, err)

	reply, err := cli.Reply(context.Background(), []Turn{
		{Role: "user", Content: "I need my order status.", Timestamp: time.Now()},
		{Role: "assistant", Content: "Which order number?", Timestamp: time.Now()},
		{Role: "user", Content: "Order 4417.", Timestamp: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sure, one moment.", reply)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "You are a concise phone agent.", got.Messages[0].Content)
	assert.Equal(t, "Order 4417.", got.Messages[3].Content)
	assert.Equal(t, "local-chat", got.Model)
}

func TestReplyAcceptsContentField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": "From the content field."})
	}))
	defer srv.Close()

	cli, err := NewClient(commons.NewApplicationLogger(), Config{URL: srv.URL})
	require.NoError(t, err)

	reply, err := cli.Reply(context.Background(), []Turn{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "From the content field.", reply)
}

func TestReplyErrorsOnEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cli, err := NewClient(commons.NewApplicationLogger(), Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = cli.Reply(context.Background(), []Turn{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}

func TestReplyErrorsOnEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	cli, err := NewClient(commons.NewApplicationLogger(), Config{URL: srv.URL})
	require.NoError(t, err)

	_, err = cli.Reply(context.Background(), []Turn{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}
