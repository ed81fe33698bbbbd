package bootstrap

import (
	"errors"

	redisdb "github.com/dalemusser/sessionkeep/pantry/db/redis"
	"github.com/dalemusser/sessionkeep/pantry/mq/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DBDeps holds the backends the service connects at startup.
type DBDeps struct {
	Redis *redisdb.Client

	// MQ and MQChannel are nil when no AMQP URL is configured.
	MQ        *rabbitmq.Connection
	MQChannel *amqp.Channel

	Store *Store
}

// Close releases every connection, channel first.
func (d DBDeps) Close() error {
	var errs []error
	if d.MQChannel != nil {
		errs = append(errs, d.MQChannel.Close())
	}
	if d.MQ != nil {
		errs = append(errs, d.MQ.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	return errors.Join(errs...)
}
