package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishSendsJSONWithEventAttribute(t *testing.T) {
	ctx := context.Background()
	srv, client := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "papers")
	require.NoError(t, err)

	pub := New(client)
	defer func() { require.NoError(t, pub.Close()) }()

	id, err := pub.Publish(ctx, "papers", crawler.PaperEvent{
		Event: crawler.EventPaperRecorded, RunID: "run-1", Year: 2023, Title: "Paper",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, crawler.EventPaperRecorded, msgs[0].Attributes["event"])

	var got crawler.PaperEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 2023, got.Year)
}

func TestPublishMissingTopicFails(t *testing.T) {
	_, client := newFakeClient(t)
	pub := New(client)
	defer func() { _ = pub.Close() }()

	_, err := pub.Publish(context.Background(), "absent", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "publish message")
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "t", nil)
	require.EqualError(t, err, "pubsub publisher is not configured")

	_, err = Dial(context.Background(), "")
	require.EqualError(t, err, "pubsub.project_id is required")
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	_, client := newFakeClient(t)
	pub := New(client)
	defer func() { _ = pub.Close() }()

	_, err := pub.Publish(context.Background(), "papers", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = pub.Publish(context.Background(), "", "x")
	require.EqualError(t, err, "topic is required")
}

func TestPubsubCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	assert.Equal(t, "00-abc", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
