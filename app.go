package main

import (
	"context"
	"net/http"

	"github.com/deemkeen/murmur/activitypub"
	"github.com/deemkeen/murmur/db"
	"github.com/deemkeen/murmur/util"
	"go.uber.org/zap"
)

// app holds the wired components shared by the commands.
type app struct {
	db       *db.DB
	fed      activitypub.Context
	keys     *activitypub.KeyStore
	delivery *activitypub.Delivery
	resolver *activitypub.HTTPResolver
	service  *activitypub.Service
	inbox    *activitypub.InboxProcessor
}

func newApp(ctx context.Context, conf *util.AppConfig, logger *zap.Logger) (*app, error) {
	database, err := db.Open(ctx, util.ResolveDatabasePath(conf.Database.Path), logger)
	if err != nil {
		return nil, err
	}

	fed := activitypub.NewContext(conf.Federation.Scheme, conf.Federation.Domain)
	userAgent := util.UserAgent(conf.Federation.Domain)
	keys := activitypub.NewKeyStore(database, logger)

	resolver := activitypub.NewHTTPResolver(userAgent, logger)
	// Local development federates over plain http.
	resolver.Scheme = conf.Federation.Scheme

	delivery := activitypub.NewDelivery(activitypub.DeliveryConfig{
		Database:    database,
		Keys:        keys,
		Federation:  fed,
		Client:      &http.Client{Timeout: conf.Delivery.Timeout},
		UserAgent:   userAgent,
		Interval:    conf.Delivery.Interval,
		BatchSize:   conf.Delivery.BatchSize,
		Concurrency: conf.Delivery.Concurrency,
		Logger:      logger,
	})

	service, err := activitypub.NewService(activitypub.ServiceConfig{
		Database:   database,
		Keys:       keys,
		Federation: fed,
		Sender:     delivery,
		Resolver:   resolver,
		Logger:     logger,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	inbox := activitypub.NewInboxProcessor(activitypub.InboxConfig{
		Database:   database,
		Federation: fed,
		Sender:     delivery,
		Resolver:   resolver,
		Logger:     logger,
	})

	return &app{
		db:       database,
		fed:      fed,
		keys:     keys,
		delivery: delivery,
		resolver: resolver,
		service:  service,
		inbox:    inbox,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
