package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestAttemptOf(t *testing.T) {
	assert.Equal(t, 0, attemptOf(nil))
	assert.Equal(t, 0, attemptOf(amqp.Table{retryHeader: "x"}))
	assert.Equal(t, 2, attemptOf(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, 3, attemptOf(amqp.Table{retryHeader: int64(3)}))
}
