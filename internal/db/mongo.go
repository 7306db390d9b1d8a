package db

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const connectTimeout = 10 * time.Second

type NewMongoClientParams struct {
	Host           string
	Port           string
	User           string
	Pass           string
	AppName        string
	TracingEnabled bool
	// optional, tracks connections checked out of the pool
	ConnectionsGauge prometheus.Gauge
}

func (p NewMongoClientParams) URI() string {
	hostPort := net.JoinHostPort(p.Host, p.Port)
	if p.User != "" && p.Pass != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s/", p.User, p.Pass, hostPort)
	}
	return fmt.Sprintf("mongodb://%s/", hostPort)
}

func (p NewMongoClientParams) Options() *options.ClientOptions {
	opts := options.Client().
		ApplyURI(p.URI()).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)

	if p.AppName != "" {
		opts.SetAppName(p.AppName)
	}
	if p.TracingEnabled {
		opts.SetMonitor(otelmongo.NewMonitor())
	}
	if p.ConnectionsGauge != nil {
		opts.SetPoolMonitor(newPoolMonitor(p.ConnectionsGauge))
	}

	return opts
}

// NewMongoClient connects to mongo. Connecting is lazy in the driver,
// so an unreachable server surfaces on the first operation or Ping.
func NewMongoClient(ctx context.Context, params NewMongoClientParams) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, params.Options())
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	return client, nil
}

func Ping(ctx context.Context, client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return client.Ping(ctx, nil)
}

func Disconnect(ctx context.Context, client *mongo.Client) {
	if err := client.Disconnect(ctx); err != nil {
		log.Errorf("disconnect mongo client: %s", err)
	}
}

func newPoolMonitor(checkedOut prometheus.Gauge) *event.PoolMonitor {
	return &event.PoolMonitor{
		Event: func(e *event.PoolEvent) {
			switch e.Type {
			case event.GetSucceeded:
				checkedOut.Inc()
			case event.ConnectionReturned:
				checkedOut.Dec()
			}
		},
	}
}
