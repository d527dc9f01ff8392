package queue

type ProducerConfig struct {
	Brokers    []string
	SaslConfig *SaslConfig
	Topic      string
	BatchSize  int
	BatchBytes int
	Balancer   string
}

type ConsumerConfig struct {
	Brokers    []string
	SaslConfig *SaslConfig
	Topic      string
	GroupID    string
}

type SaslConfig struct {
	SaslMechanism string
	SaslUsername  string
	SaslPassword  string
	KafkaCA       string
}
