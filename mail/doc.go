// Package mail holds clinicAuth.Mailer implementations that need no broker:
// a logging mailer for development and a circuit breaker that wraps any
// other mailer. The Kafka publisher lives in mail/kafka.
package mail
