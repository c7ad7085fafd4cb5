/*
Package pipeline holds the transport contracts the message pipeline writes through.
It keeps the pipeline decoupled from concrete brokers via interfaces.
*/
package pipeline
