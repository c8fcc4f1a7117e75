package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockNATSClient records what was published.
type MockNATSClient struct {
	PublishedSubject string
	PublishedData    []byte
	PublishError     error
}

func (m *MockNATSClient) Publish(subject string, data []byte) error {
	m.PublishedSubject = subject
	m.PublishedData = data
	return m.PublishError
}

func TestNATSPublisher_SessionLinked(t *testing.T) {
	mock := &MockNATSClient{}
	pub := NewNATSPublisher(mock)

	err := pub.SessionLinked(context.Background(), SessionLinkedEvent{
		UserID:         "user-1",
		Phone:          "********4567",
		TelegramUserID: "42",
		LinkedAt:       time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, SubjectSessionLinked, mock.PublishedSubject)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(mock.PublishedData, &decoded))
	assert.Equal(t, "user-1", decoded["user_id"])
	assert.Equal(t, "42", decoded["telegram_user_id"])
}

func TestNATSPublisher_BroadcastCompleted(t *testing.T) {
	mock := &MockNATSClient{}
	pub := NewNATSPublisher(mock)

	require.NoError(t, pub.BroadcastCompleted(context.Background(), BroadcastCompletedEvent{JobID: "j", Total: 5, Successful: 3, Failed: 2}))
	assert.Equal(t, SubjectBroadcastCompleted, mock.PublishedSubject)

	require.NoError(t, pub.SessionDeleted(context.Background(), SessionDeletedEvent{Phone: "****", Count: 1}))
	assert.Equal(t, SubjectSessionDeleted, mock.PublishedSubject)
}

func TestNATSPublisher_PublishError(t *testing.T) {
	mock := &MockNATSClient{PublishError: errors.New("nats down")}
	pub := NewNATSPublisher(mock)

	err := pub.SessionLinked(context.Background(), SessionLinkedEvent{})
	assert.ErrorContains(t, err, "nats down")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.SessionLinked(context.Background(), SessionLinkedEvent{}))
	assert.NoError(t, p.SessionDeleted(context.Background(), SessionDeletedEvent{}))
	assert.NoError(t, p.BroadcastCompleted(context.Background(), BroadcastCompletedEvent{}))
}
