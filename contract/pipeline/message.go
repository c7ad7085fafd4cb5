package pipeline

// Message is the encoded form of an outbound write.
// Destination is the topic, subject or routing key; empty means the connection's remote.
type Message struct {
	Destination string
	Key         []byte
	Body        []byte
	Headers     map[string]string
}
