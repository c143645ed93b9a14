package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/contactbook/internal/app/services/auth"
	"github.com/R3E-Network/contactbook/internal/app/services/contacts"
	"github.com/R3E-Network/contactbook/internal/app/services/health"
	"github.com/R3E-Network/contactbook/internal/app/services/mail"
	"github.com/R3E-Network/contactbook/internal/app/services/scheduler"
	"github.com/R3E-Network/contactbook/internal/app/services/users"
	"github.com/R3E-Network/contactbook/internal/app/storage"
	"github.com/R3E-Network/contactbook/internal/app/storage/memory"
	"github.com/R3E-Network/contactbook/internal/app/system"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users    storage.UserStore
	Contacts storage.ContactStore
	// Pinger backs the health check. Nil reports the in-memory backend.
	Pinger  storage.Pinger
	Backend string
}

// Options carries the collaborators and settings the services need.
type Options struct {
	Auth auth.Config

	// Mailer delivers queued mail. Nil logs messages instead.
	Mailer       mail.Mailer
	MailQueue    int
	MailWorkers  int
	Avatars      users.AvatarResolver
	Images       users.ImageStore
	UserCache    users.Cache
	LimiterSweep scheduler.Sweeper

	// Cron specs. Empty disables the job.
	LimiterCleanupSpec string
	BirthdayDigestSpec string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Tokens    *auth.Service
	Users     *users.Service
	Contacts  *contacts.Service
	Health    *health.Service
	MailQueue *mail.Queue
	Scheduler *scheduler.Scheduler
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Users == nil || stores.Contacts == nil {
		mem := memory.New()
		if stores.Users == nil {
			stores.Users = mem
		}
		if stores.Contacts == nil {
			stores.Contacts = mem
		}
	}

	tokens, err := auth.New(opts.Auth)
	if err != nil {
		return nil, fmt.Errorf("configure tokens: %w", err)
	}

	mailer := opts.Mailer
	if mailer == nil {
		log.Warn("mail server not configured; confirmation emails will only be logged")
		mailer = mail.NewLogMailer(log.Named("mail"))
	}
	queue := mail.NewQueue(mailer, opts.MailQueue, opts.MailWorkers, log.Named("mail-queue"))

	userService := users.New(stores.Users, tokens, log.Named("users"))
	userService.WithNotifier(queue)
	if opts.Avatars != nil {
		userService.WithAvatarResolver(opts.Avatars)
	}
	if opts.Images != nil {
		userService.WithImageStore(opts.Images)
	} else {
		log.Warn("image storage not configured; avatar uploads disabled")
	}
	if opts.UserCache != nil {
		userService.WithCache(opts.UserCache)
	}

	contactService := contacts.New(stores.Contacts, log.Named("contacts"))
	healthService := health.New(stores.Pinger, stores.Backend, log.Named("health"))

	sched := scheduler.New(log.Named("scheduler"))
	if opts.LimiterSweep != nil {
		if err := sched.Add(scheduler.JobLimiterCleanup, opts.LimiterCleanupSpec, 10*time.Second,
			scheduler.LimiterCleanup(opts.LimiterSweep, log.Named("scheduler"))); err != nil {
			return nil, err
		}
	}
	if err := sched.Add(scheduler.JobBirthdayDigest, opts.BirthdayDigestSpec, 5*time.Minute,
		scheduler.BirthdayDigest(stores.Users, contactService, queue, log.Named("scheduler"))); err != nil {
		return nil, err
	}

	manager := system.NewManager()
	for _, svc := range []system.Service{queue, sched} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Tokens:    tokens,
		Users:     userService,
		Contacts:  contactService,
		Health:    healthService,
		MailQueue: queue,
		Scheduler: sched,
	}, nil
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	a.log.WithField("services", a.manager.Services()).Info("starting services")
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
