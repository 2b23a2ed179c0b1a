package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/settla/settla-backend/pkg/config"
	"github.com/settla/settla-backend/pkg/logger"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const emailRequestAttribute = "email_request"

// Client owns the Pub/Sub connection and the email request publisher.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	email     *pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoEmailTopic      = errors.New("pubsub email topic is required")
)

// EmailRequest is the message body consumed by the mailer.
type EmailRequest struct {
	To      string `json:"to"`
	Name    string `json:"name,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewClient creates a Pub/Sub v2 client and ensures the email topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if !cfg.Enabled() {
		return nil, errNoEmailTopic
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
	}
	if err := c.ensureTopicExists(ctx, cfg.EmailTopic); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	c.email = psClient.Publisher(c.topicResourceName(cfg.EmailTopic))

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", cfg.EmailTopic), "pubsub client initialized")
	}
	return c, nil
}

func (c *Client) ensureTopicExists(ctx context.Context, name string) error {
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return fmt.Errorf("topic %q not configured", name)
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", name)
		}
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
	return nil
}

// PublishEmail publishes req and waits for the server ack.
func (c *Client) PublishEmail(ctx context.Context, req EmailRequest) error {
	if c == nil || c.email == nil {
		return errors.New("pubsub email publisher not initialized")
	}
	msg, err := encodeEmail(req)
	if err != nil {
		return err
	}
	if _, err := c.email.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish email request: %w", err)
	}
	return nil
}

func encodeEmail(req EmailRequest) (*pubsub.Message, error) {
	if strings.TrimSpace(req.To) == "" {
		return nil, errors.New("email recipient is required")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode email request: %w", err)
	}
	return &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": emailRequestAttribute},
	}, nil
}

// Ping verifies connectivity by checking the email topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.ensureTopicExists(ctx, c.cfg.EmailTopic)
}

// Close flushes pending publishes and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.email != nil {
		c.email.Stop()
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
