package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/vendorhub-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/vh-order-events", TopicResourceName("p1", "vh-order-events"))
	assert.Equal(t, "projects/other/topics/x", TopicResourceName("p1", "projects/other/topics/x"))
	assert.Equal(t, "", TopicResourceName("", "vh-order-events"))
	assert.Equal(t, "", TopicResourceName("p1", "  "))
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{OrdersTopic: "orders", PayoutsTopic: " "})
	assert.Equal(t, []string{"orders"}, names)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("orders"))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
}
