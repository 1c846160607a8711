// Package redisconn dials the valkey client shared by the redis-backed session store
// and payload cache.
package redisconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type TLSConfig struct {
	Enabled bool
	CAFile  string
}

type Config struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      TLSConfig
}

// Dial connects and pings so misconfiguration surfaces at startup.
func Dial(cfg Config) (valkey.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("redisconn: address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("redisconn: read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("redisconn: ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("redisconn: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisconn: ping: %w", err)
	}
	return client, nil
}

// CountPrefix walks the keyspace with SCAN and counts keys under prefix.
func CountPrefix(ctx context.Context, client valkey.Client, prefix string) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		entry, err := client.Do(ctx, client.B().Scan().Cursor(cursor).Match(prefix+"*").Count(200).Build()).AsScanEntry()
		if err != nil {
			return 0, fmt.Errorf("redisconn: scan: %w", err)
		}
		total += int64(len(entry.Elements))
		cursor = entry.Cursor
		if cursor == 0 {
			return total, nil
		}
	}
}
