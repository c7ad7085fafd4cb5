/*
Package rabbitmq provides a RabbitMQ transport for traced pipelines.
It maps sends to AMQP publishes in confirm mode, completes each send with the
broker's ack or nack, and includes an auto-reconnect publisher.
*/
package rabbitmq
