package loki

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	mu       sync.Mutex
	requests []pushRequest
	headers  []http.Header
}

func (c *recordingClient) Do(req *http.Request) (*http.Response, error) {
	gz, err := gzip.NewReader(req.Body)
	if err != nil {
		return nil, err
	}
	var body pushRequest
	if err = json.NewDecoder(gz).Decode(&body); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.requests = append(c.requests, body)
	c.headers = append(c.headers, req.Header.Clone())
	c.mu.Unlock()

	return &http.Response{StatusCode: http.StatusNoContent, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func (c *recordingClient) lines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, r := range c.requests {
		for _, s := range r.Streams {
			total += len(s.Values)
		}
	}
	return total
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}

func Test_New_InvalidConfigIsRejected(t *testing.T) {
	_, err := New(context.Background(), Config{}, nopLogger{})
	assert.Error(t, err)
}

func Test_Pusher_FlushesWhenBatchIsFull(t *testing.T) {

	client := &recordingClient{}
	p, err := NewWithClient(context.Background(), Config{
		Url:          "http://loki.local/loki/api/v1/push",
		BatchMaxSize: 2,
		BatchMaxWait: time.Hour,
		Labels:       map[string]string{"app": "deal-crawler"},
		TenantKey:    "X-Scope-OrgID",
		TenantValue:  "crawler",
	}, nopLogger{}, client)
	require.NoError(t, err)

	p.Push(LogEntry{Level: "info", Message: "first"})
	p.Push(LogEntry{Level: "info", Message: "second"})

	assert.Eventually(t, func() bool { return client.lines() == 2 }, time.Second, 10*time.Millisecond)

	client.mu.Lock()
	assert.Equal(t, "deal-crawler", client.requests[0].Streams[0].Stream["app"])
	assert.Equal(t, "crawler", client.headers[0].Get("X-Scope-OrgID"))
	client.mu.Unlock()

	p.Stop()
}

func Test_Pusher_StopFlushesPendingLines(t *testing.T) {

	client := &recordingClient{}
	p, err := NewWithClient(context.Background(), Config{
		Url:          "http://loki.local/loki/api/v1/push",
		BatchMaxSize: 100,
		BatchMaxWait: time.Hour,
	}, nopLogger{}, client)
	require.NoError(t, err)

	p.Push(LogEntry{Level: "error", Message: "pending"})
	p.Stop()

	assert.Equal(t, 1, client.lines())
}
