// Package kafka adapts segmentio/kafka-go to the broker ports.
package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/ghalamif/MetricFlow/internal/domain"
)

const (
	DefaultWriteTimeout   = 10 * time.Second
	DefaultSessionTimeout = 6 * time.Second
	DefaultCommitInterval = time.Second
	DefaultDialTimeout    = 10 * time.Second
)

type Config struct {
	Brokers []string
	// Username, Password and CACertPath switch on SASL/PLAIN over TLS.
	// They must be set together.
	Username   string
	Password   string
	CACertPath string

	ClientID       string
	WriteTimeout   time.Duration
	SessionTimeout time.Duration
	CommitInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "metricflow-" + uuid.NewString()[:8]
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = DefaultCommitInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Secure reports whether SASL/TLS is configured. Setting only some of the
// credentials is a configuration error.
func (c Config) Secure() (bool, error) {
	set := 0
	for _, v := range []string{c.Username, c.Password, c.CACertPath} {
		if v != "" {
			set++
		}
	}
	switch set {
	case 0:
		return false, nil
	case 3:
		return true, nil
	default:
		return false, domain.Configuration("kafka credentials",
			errors.New("username, password and ca_cert_path must be set together"))
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return domain.Configuration("kafka brokers", errors.New("at least one broker is required"))
	}
	_, err := c.Secure()
	return err
}

// security returns the TLS config and SASL mechanism, both nil for plaintext.
func (c Config) security() (*tls.Config, sasl.Mechanism, error) {
	secure, err := c.Secure()
	if err != nil || !secure {
		return nil, nil, err
	}
	tlsCfg, err := loadTLS(c.CACertPath)
	if err != nil {
		return nil, nil, err
	}
	return tlsCfg, plain.Mechanism{Username: c.Username, Password: c.Password}, nil
}

func loadTLS(caPath string) (*tls.Config, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, domain.Configuration("kafka ca cert", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, domain.Configuration("kafka ca cert", fmt.Errorf("no certificates found in %s", caPath))
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (c Config) dialer() (*kafkago.Dialer, error) {
	tlsCfg, mech, err := c.security()
	if err != nil {
		return nil, err
	}
	return &kafkago.Dialer{
		Timeout:       DefaultDialTimeout,
		DualStack:     true,
		ClientID:      c.ClientID,
		TLS:           tlsCfg,
		SASLMechanism: mech,
	}, nil
}

func loggers(l *slog.Logger) (kafkago.Logger, kafkago.Logger) {
	info := kafkago.LoggerFunc(func(msg string, args ...interface{}) {
		l.Debug(fmt.Sprintf(msg, args...), "component", "kafka")
	})
	errs := kafkago.LoggerFunc(func(msg string, args ...interface{}) {
		l.Error(fmt.Sprintf(msg, args...), "component", "kafka")
	})
	return info, errs
}
